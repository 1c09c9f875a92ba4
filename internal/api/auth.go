package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Caller is the user behind a verified access token.
type Caller struct {
	ID    uuid.UUID
	Email string
}

// ErrInvalidToken is returned when the identity provider rejects a token.
var ErrInvalidToken = errors.New("invalid or expired access token")

// Authenticator resolves a bearer token to a Caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Caller, error)
}

const (
	authCacheTTL     = time.Minute
	authCacheMaxSize = 10000
)

// SupabaseAuth verifies access tokens with GET {SUPABASE_URL}/auth/v1/user.
// Verified tokens are cached for a minute.
type SupabaseAuth struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cachedCaller
	now   func() time.Time
}

type cachedCaller struct {
	caller  Caller
	expires time.Time
}

var _ Authenticator = (*SupabaseAuth)(nil)

func NewSupabaseAuth(baseURL, apiKey string, client *http.Client) *SupabaseAuth {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SupabaseAuth{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		cache:   make(map[string]cachedCaller),
		now:     time.Now,
	}
}

func (a *SupabaseAuth) Authenticate(ctx context.Context, token string) (*Caller, error) {
	key := tokenKey(token)
	if c, ok := a.cached(key); ok {
		return &c, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("auth lookup failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}

	id, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	c := Caller{ID: id, Email: user.Email}
	a.store(key, c)
	return &c, nil
}

func (a *SupabaseAuth) cached(key string) (Caller, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok {
		return Caller{}, false
	}
	if a.now().After(e.expires) {
		delete(a.cache, key)
		return Caller{}, false
	}
	return e.caller, true
}

func (a *SupabaseAuth) store(key string, c Caller) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cache) >= authCacheMaxSize {
		a.cache = make(map[string]cachedCaller)
	}
	a.cache[key] = cachedCaller{caller: c, expires: a.now().Add(authCacheTTL)}
}

// tokenKey keeps raw tokens out of the cache map.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
