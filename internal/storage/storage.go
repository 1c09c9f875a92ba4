package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/audiodesc/internal/audio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Upload timeout per attempt
	uploadTimeout = 60 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// Storage is a thin client for the Supabase Storage REST API, bound to one bucket.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client

	retryBase time.Duration

	bucketMu    sync.Mutex
	bucketReady bool
}

func New(url, serviceKey, bucket string) *Storage {
	return NewWithClient(url, serviceKey, bucket, &http.Client{
		Timeout: uploadTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	})
}

func NewWithClient(url, serviceKey, bucket string, client *http.Client) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client:     client,
		retryBase:  baseRetryDelay,
	}
}

// OwnerPrefix is the folder an owner's objects live under:
// users/<id> for signed-in callers, guests/<session> otherwise.
func OwnerPrefix(userID *uuid.UUID, sessionID string) string {
	if userID != nil {
		return "users/" + userID.String()
	}
	return "guests/" + sanitizeSegment(sessionID)
}

// ObjectPath builds a fresh <owner>/<uuid>.mp3 path.
func ObjectPath(userID *uuid.UUID, sessionID string) string {
	return fmt.Sprintf("%s/%s.mp3", OwnerPrefix(userID, sessionID), uuid.New().String())
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}

// EnsureBucket makes sure the bucket exists and is public. A concurrent
// creator winning the race (409 / "already exists") is not an error.
// Success is remembered for the lifetime of the client.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}

	status, body, err := s.do(ctx, http.MethodGet, "/storage/v1/bucket/"+s.Bucket, nil, "")
	if err != nil {
		return fmt.Errorf("failed to look up bucket: %w", err)
	}

	switch {
	case status == http.StatusOK:
		s.bucketReady = true
		return nil
	case status == http.StatusNotFound || isNotFoundBody(body):
		// fall through to create
	default:
		return fmt.Errorf("bucket lookup failed with status %d: %s", status, truncate(string(body), 200))
	}

	payload, _ := json.Marshal(map[string]any{
		"id":     s.Bucket,
		"name":   s.Bucket,
		"public": true,
	})
	status, body, err = s.do(ctx, http.MethodPost, "/storage/v1/bucket", payload, "application/json")
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	if status == http.StatusOK || status == http.StatusCreated ||
		status == http.StatusConflict || strings.Contains(strings.ToLower(string(body)), "already exists") {
		zerolog.Ctx(ctx).Info().Str("bucket", s.Bucket).Int("status", status).Msg("storage bucket ready")
		s.bucketReady = true
		return nil
	}

	return fmt.Errorf("bucket creation failed with status %d: %s", status, truncate(string(body), 200))
}

// Supabase answers a missing bucket with 400 and a "not found" body on some versions.
func isNotFoundBody(body []byte) bool {
	var e struct {
		StatusCode string `json:"statusCode"`
		Error      string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	return e.StatusCode == "404" || strings.EqualFold(e.Error, "Bucket not found")
}

// Upload uploads an object with retries and exponential backoff.
// Uses PUT with x-upsert so a retried attempt overwrites a partial one.
func (s *Storage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	lg := zerolog.Ctx(ctx)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			lg.Warn().Str("path", path).Int("attempt", attempt).Dur("wait", delay).Msg("retrying storage upload")

			select {
			case <-ctx.Done():
				return fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		status, body, err := s.put(ctx, path, data, contentType)
		if err != nil {
			lastErr = fmt.Errorf("failed to upload: %w", err)
			if ctx.Err() == nil && isRetryableError(err) {
				continue
			}
			return lastErr
		}

		if status == http.StatusOK || status == http.StatusCreated {
			if attempt > 0 {
				lg.Info().Str("path", path).Int("attempt", attempt+1).Msg("storage upload succeeded after retry")
			}
			return nil
		}

		lastErr = fmt.Errorf("upload failed with status %d: %s", status, truncate(string(body), 300))
		if isRetryableStatus(status) {
			continue
		}

		// Non-retryable status (400, 401, 403, 413, ...)
		return lastErr
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Storage) put(ctx context.Context, path string, data []byte, contentType string) (int, []byte, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, path)
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.ContentLength = int64(len(data))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

// Delete removes objects from the bucket. Missing objects are not an error.
func (s *Storage) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	payload, _ := json.Marshal(map[string][]string{"prefixes": paths})
	status, body, err := s.do(ctx, http.MethodDelete, "/storage/v1/object/"+s.Bucket, payload, "application/json")
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("delete failed with status %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// GetPublicURL returns the public URL for an object
func (s *Storage) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, path)
}

func (s *Storage) do(ctx context.Context, method, path string, payload []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

func (s *Storage) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

// retryDelay calculates exponential backoff with jitter: base * 2^(attempt-1) + up to 25%
func (s *Storage) retryDelay(attempt int) time.Duration {
	delay := float64(s.retryBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// truncate shortens upstream error bodies for messages, by rune.
func truncate(s string, maxLen int) string {
	if t := audio.Truncate(s, maxLen); len(t) < len(s) {
		return t + "..."
	}
	return s
}
