package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/audiodesc/internal/config"
	"github.com/bobarin/audiodesc/internal/db/dbtest"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/bobarin/audiodesc/internal/quota"
	"github.com/bobarin/audiodesc/internal/ratelimit"
	"github.com/bobarin/audiodesc/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMP3 = []byte{0xFF, 0xFB, 0x90, 0x64, 0x10, 0x20, 0x30}

type fakeSynth struct {
	audio []byte
	err   error
	block bool

	mu    sync.Mutex
	calls int
	text  string
	voice string
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(ctx context.Context, text, languageCode, voiceID string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.text = text
	f.voice = voiceID
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.audio, f.err
}

type fakeEnhancer struct {
	out   string
	ok    bool
	calls int
	mode  services.Mode
}

func (f *fakeEnhancer) Enhance(ctx context.Context, text, languageCode string, mode services.Mode) (string, bool) {
	f.calls++
	f.mode = mode
	return f.out, f.ok
}

type fakeObjectStore struct {
	uploaded map[string][]byte
	deleted  []string
	err      error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploaded: make(map[string][]byte)}
}

func (f *fakeObjectStore) EnsureBucket(context.Context) error { return nil }

func (f *fakeObjectStore) Upload(_ context.Context, path string, data []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.uploaded[path] = data
	return nil
}

func (f *fakeObjectStore) Delete(_ context.Context, paths ...string) error {
	f.deleted = append(f.deleted, paths...)
	return nil
}

func (f *fakeObjectStore) GetPublicURL(path string) string {
	return "https://cdn.test/" + path
}

type harness struct {
	store    *dbtest.Store
	objects  *fakeObjectStore
	synth    *fakeSynth
	enhancer *fakeEnhancer
	limiter  *ratelimit.Memory
	opts     Options
	strategy string
}

func newHarness() *harness {
	return &harness{
		store:    dbtest.New(),
		objects:  newFakeObjectStore(),
		synth:    &fakeSynth{audio: testMP3},
		enhancer: &fakeEnhancer{},
		limiter:  ratelimit.NewMemory(),
		strategy: config.PersistStorage,
		opts: Options{
			MaxTextLength:           4000,
			ShortPromptMaxChars:     60,
			FullDescriptionMinChars: 300,
			PipelineTimeout:         2 * time.Second,
			GuestGenerations:        true,
			LLMPerMinute:            10,
			TTSPerMinute:            20,
		},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	guard := quota.NewGuard(h.store.ProfileRepo(), h.store.SettingsRepo(), h.store.AudioFiles(), quota.Options{
		DefaultPlan:       "free",
		DefaultDailyLimit: 10,
		GuestDailyLimit:   3,
	})
	persister := NewPersister(h.strategy, h.store.AudioFiles(), h.objects)
	return NewOrchestrator(guard, h.limiter, h.enhancer, h.synth, persister, h.opts)
}

func userRequest(id uuid.UUID, text string) models.GenerationRequest {
	return models.GenerationRequest{
		Text:         text,
		LanguageCode: "en-US",
		VoiceID:      "alloy",
		CallerID:     &id,
		ClaimedID:    id.String(),
		ClientIP:     "198.51.100.7",
		RequestID:    "req-1",
	}
}

func TestGenerateSuccessConsumesOneGeneration(t *testing.T) {
	h := newHarness()
	h.enhancer.out, h.enhancer.ok = "Premium wireless headphones with rich sound.", true
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.AudioURL)
	assert.Equal(t, "Premium wireless headphones with rich sound.", res.Text)
	assert.Equal(t, 4, h.store.Remaining(id))
	assert.Equal(t, services.ModeFullDescription, h.enhancer.mode)
	assert.Equal(t, res.Text, h.synth.text)

	record, err := h.store.AudioFiles().Get(context.Background(), uuid.MustParse(res.ID))
	require.NoError(t, err)
	assert.Equal(t, res.AudioURL, record.AudioURL)
	assert.Equal(t, id, *record.UserID)
	assert.False(t, record.IsTemporary)
	require.NotNil(t, record.FilePath)
	assert.True(t, strings.HasPrefix(*record.FilePath, "users/"+id.String()+"/"))
	assert.Equal(t, testMP3, h.objects.uploaded[*record.FilePath])
}

func TestGenerateKeepsOriginalTextWhenEnhancerFails(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.NoError(t, err)
	assert.Equal(t, "Wireless Headphones", res.Text)
	assert.Equal(t, "Wireless Headphones", h.synth.text)
	assert.Equal(t, 1, h.enhancer.calls)
}

func TestGenerateSkipsEnhancerForFullDescription(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	text := strings.Repeat("Soft cotton tee with a relaxed fit. ", 10)
	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, text))
	require.NoError(t, err)
	assert.Zero(t, h.enhancer.calls)
	assert.Equal(t, strings.TrimSpace(text), res.Text)
}

func TestGenerateDataURLStrategy(t *testing.T) {
	h := newHarness()
	h.strategy = config.PersistDataURL
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.NoError(t, err)

	prefix := "data:audio/mp3;base64,"
	require.True(t, strings.HasPrefix(res.AudioURL, prefix))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(res.AudioURL, prefix))
	require.NoError(t, err)
	assert.Equal(t, testMP3, decoded)
	assert.Empty(t, h.objects.uploaded)
}

func TestGenerateUnauthenticatedClaim(t *testing.T) {
	h := newHarness()
	req := userRequest(uuid.New(), "Wireless Headphones")
	req.CallerID = nil

	_, err := h.orchestrator().Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Contains(t, PublicMessage(err), "Authentication required")
	assert.Zero(t, h.synth.calls)
}

func TestGenerateNoCallerNoSession(t *testing.T) {
	h := newHarness()
	req := models.GenerationRequest{Text: "Mug", LanguageCode: "en-US", VoiceID: "alloy"}

	_, err := h.orchestrator().Generate(context.Background(), req)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestGenerateMismatchedUserID(t *testing.T) {
	h := newHarness()
	req := userRequest(uuid.New(), "Mug")
	req.ClaimedID = uuid.New().String()

	_, err := h.orchestrator().Generate(context.Background(), req)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestGenerateValidation(t *testing.T) {
	h := newHarness()
	id := uuid.New()

	tests := []struct {
		name   string
		mutate func(*models.GenerationRequest)
	}{
		{"blank text", func(r *models.GenerationRequest) { r.Text = "   " }},
		{"too long", func(r *models.GenerationRequest) { r.Text = strings.Repeat("x", 4001) }},
		{"missing language", func(r *models.GenerationRequest) { r.LanguageCode = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := userRequest(id, "Mug")
			tt.mutate(&req)
			_, err := h.orchestrator().Generate(context.Background(), req)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestGenerateEmptyVoiceUsesProviderDefault(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	req := userRequest(id, "Mug")
	req.VoiceID = ""
	res, err := h.orchestrator().Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, h.synth.voice)

	record, err := h.store.AudioFiles().Get(context.Background(), uuid.MustParse(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "default", record.VoiceName)
}

func TestGenerateRecordKeepsSubmittedText(t *testing.T) {
	h := newHarness()
	narration := "Introducing our premium over-ear set with deep bass, forty hour battery life and plush memory foam cushions."
	h.enhancer.out, h.enhancer.ok = narration, true
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, "  Wireless Headphones "))
	require.NoError(t, err)
	assert.Equal(t, narration, res.Text)

	record, err := h.store.AudioFiles().Get(context.Background(), uuid.MustParse(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "Wireless Headphones", record.Title)
	assert.Equal(t, narration, record.Description)
}

func TestGenerateQuotaExhausted(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.store.SetProfile(id, 10, 0)

	_, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.Error(t, err)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
	assert.Equal(t, quota.ReasonDailyLimit, PublicMessage(err))
	assert.Zero(t, h.synth.calls)
	assert.Zero(t, h.store.FileCount())
}

func TestGenerateUnlimitedOverride(t *testing.T) {
	h := newHarness()
	h.store.Settings.UnlimitedGenerationsForAll = true
	id := uuid.New()
	h.store.SetProfile(id, 10, 0)

	res, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, h.store.Remaining(id))
	assert.Zero(t, h.store.Decrements)
}

func TestGenerateTTSFailureLeavesQuotaUntouched(t *testing.T) {
	h := newHarness()
	h.synth.err = &services.SynthesisError{Provider: "openai", HTTPStatus: 500, Message: "engine overloaded"}
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	_, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, PublicMessage(err), "Text-to-speech failed")
	assert.Contains(t, PublicMessage(err), "500")

	var synthErr *services.SynthesisError
	assert.True(t, errors.As(err, &synthErr))
	assert.Equal(t, 5, h.store.Remaining(id))
	assert.Zero(t, h.store.FileCount())
}

func TestGenerateTimeout(t *testing.T) {
	h := newHarness()
	h.synth.block = true
	h.opts.PipelineTimeout = 50 * time.Millisecond
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	start := time.Now()
	_, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, MsgTimeout, PublicMessage(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 5, h.store.Remaining(id))
	assert.Zero(t, h.store.FileCount())
}

func TestGenerateMetadataFailureRemovesUpload(t *testing.T) {
	h := newHarness()
	h.store.ErrCreateFile = errors.New("insert failed")
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	_, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, 5, h.store.Remaining(id))

	require.Len(t, h.objects.uploaded, 1)
	for path := range h.objects.uploaded {
		assert.Equal(t, []string{path}, h.objects.deleted)
	}
}

func TestGenerateUploadFailure(t *testing.T) {
	h := newHarness()
	h.objects.err = errors.New("upload failed with status 403")
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)

	_, err := h.orchestrator().Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, MsgSaveFailed, PublicMessage(err))
	assert.Equal(t, 5, h.store.Remaining(id))
}

func TestGenerateRateLimitedPerIP(t *testing.T) {
	h := newHarness()
	h.opts.TTSPerMinute = 2
	id := uuid.New()
	h.store.SetProfile(id, 10, 10)
	o := h.orchestrator()

	for i := 0; i < 2; i++ {
		_, err := o.Generate(context.Background(), userRequest(id, "Wireless Headphones"))
		require.NoError(t, err)
	}

	_, err := o.Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 8, h.store.Remaining(id))

	// another address is unaffected
	req := userRequest(id, "Wireless Headphones")
	req.ClientIP = "203.0.113.50"
	_, err = o.Generate(context.Background(), req)
	assert.NoError(t, err)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Duration, int) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestGenerateRateLimiterFailsOpen(t *testing.T) {
	h := newHarness()
	id := uuid.New()
	h.store.SetProfile(id, 10, 5)
	guard := quota.NewGuard(h.store.ProfileRepo(), h.store.SettingsRepo(), h.store.AudioFiles(), quota.Options{DefaultDailyLimit: 10})
	o := NewOrchestrator(guard, brokenLimiter{}, h.enhancer, h.synth, NewPersister(h.strategy, h.store.AudioFiles(), h.objects), h.opts)

	_, err := o.Generate(context.Background(), userRequest(id, "Wireless Headphones"))
	assert.NoError(t, err)
}

func TestGuestGenerationIsTemporary(t *testing.T) {
	h := newHarness()
	req := models.GenerationRequest{
		Text:         "Wireless Headphones",
		LanguageCode: "en-US",
		VoiceID:      "alloy",
		SessionID:    "guest-xyz",
		ClientIP:     "198.51.100.7",
	}

	res, err := h.orchestrator().Generate(context.Background(), req)
	require.NoError(t, err)

	record, err := h.store.AudioFiles().Get(context.Background(), uuid.MustParse(res.ID))
	require.NoError(t, err)
	assert.True(t, record.IsTemporary)
	assert.Nil(t, record.UserID)
	require.NotNil(t, record.SessionID)
	assert.Equal(t, "guest-xyz", *record.SessionID)
	assert.True(t, strings.HasPrefix(*record.FilePath, "guests/guest-xyz/"))
	assert.Zero(t, h.store.Decrements)
}

func TestGuestLimitAndDisabledGuests(t *testing.T) {
	h := newHarness()
	req := models.GenerationRequest{Text: "Mug", LanguageCode: "en-US", VoiceID: "alloy", SessionID: "g1"}
	o := h.orchestrator()

	for i := 0; i < 3; i++ {
		_, err := o.Generate(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := o.Generate(context.Background(), req)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))

	h.opts.GuestGenerations = false
	req.SessionID = "g2"
	_, err = h.orchestrator().Generate(context.Background(), req)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestPersisterTruncatesTitleAndDescription(t *testing.T) {
	store := dbtest.New()
	p := NewPersister(config.PersistDataURL, store.AudioFiles(), nil)
	id := uuid.New()

	text := strings.Repeat("ü", 1500)
	out, err := p.Persist(context.Background(), testMP3, Metadata{UserID: &id, Text: text, Language: "de-DE", Voice: "nova"})
	require.NoError(t, err)

	record, err := store.AudioFiles().Get(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ü", 80), record.Title)
	assert.Equal(t, strings.Repeat("ü", 1000), record.Description)
	assert.Nil(t, record.FilePath)
	assert.Equal(t, "nova", record.VoiceName)
}

func TestPersisterTitleFromSourceText(t *testing.T) {
	store := dbtest.New()
	p := NewPersister(config.PersistDataURL, store.AudioFiles(), nil)

	out, err := p.Persist(context.Background(), testMP3, Metadata{
		SessionID:  "g1",
		SourceText: strings.Repeat("a", 100),
		Text:       "spoken narration",
		Language:   "en-US",
	})
	require.NoError(t, err)

	record, err := store.AudioFiles().Get(context.Background(), out.RecordID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 80), record.Title)
	assert.Equal(t, "spoken narration", record.Description)
	assert.Equal(t, "default", record.VoiceName)
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindUpstream, "Text-to-speech failed", errors.New("boom"))
	assert.Equal(t, "upstream: Text-to-speech failed: boom", err.Error())
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("plain")))
}
