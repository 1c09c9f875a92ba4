// Package pipeline runs one text-to-audio generation: authorization, quota,
// optional description enhancement, speech synthesis, persistence and the
// final quota charge.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bobarin/audiodesc/internal/metrics"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/bobarin/audiodesc/internal/quota"
	"github.com/bobarin/audiodesc/internal/ratelimit"
	"github.com/bobarin/audiodesc/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const rateWindow = time.Minute

// DescriptionEnhancer rewrites short product text; ok=false keeps the original.
type DescriptionEnhancer interface {
	Enhance(ctx context.Context, text, languageCode string, mode services.Mode) (string, bool)
}

// QuotaGuard is implemented by *quota.Guard.
type QuotaGuard interface {
	Check(ctx context.Context, callerID uuid.UUID) (quota.Decision, error)
	CheckGuest(ctx context.Context, sessionID string) (quota.Decision, error)
	Consume(ctx context.Context, callerID uuid.UUID) error
}

type Options struct {
	MaxTextLength           int
	ShortPromptMaxChars     int
	FullDescriptionMinChars int
	PipelineTimeout         time.Duration
	GuestGenerations        bool
	LLMPerMinute            int
	TTSPerMinute            int
}

type Orchestrator struct {
	quota     QuotaGuard
	limiter   ratelimit.Limiter
	enhancer  DescriptionEnhancer
	tts       services.Synthesizer
	persister *Persister
	opts      Options
}

// NewOrchestrator wires the stages. enhancer may be nil to always speak the input as is.
func NewOrchestrator(q QuotaGuard, limiter ratelimit.Limiter, enhancer DescriptionEnhancer, tts services.Synthesizer, persister *Persister, opts Options) *Orchestrator {
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = 60 * time.Second
	}
	return &Orchestrator{
		quota:     q,
		limiter:   limiter,
		enhancer:  enhancer,
		tts:       tts,
		persister: persister,
		opts:      opts,
	}
}

// Generate runs the request to completion. On failure the returned error is
// an *Error, no history row exists and the caller's quota is unchanged.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	start := time.Now()

	caller := "guest"
	if !req.Guest() {
		caller = req.CallerID.String()
	}
	lg := zerolog.Ctx(ctx).With().
		Str("request_id", req.RequestID).
		Str("caller_id", caller).
		Logger()
	ctx = lg.WithContext(ctx)

	states := &stateLog{lg: lg, state: models.StateReceived}
	transition := states.to
	fail := func(err *Error) (*models.GenerationResult, error) {
		ev := lg.Warn()
		if err.Kind == KindInternal || err.Kind == KindUpstream || err.Kind == KindStorage {
			ev = lg.Error()
		}
		ev.Err(err.Err).
			Str("from", string(states.swap(models.StateFailed))).
			Str("state", string(models.StateFailed)).
			Str("kind", err.Kind.String()).
			Msg(err.Message)
		metrics.GenerationsTotal.WithLabelValues(err.Kind.String()).Inc()
		metrics.PipelineSeconds.Observe(time.Since(start).Seconds())
		return nil, err
	}

	lg.Info().Str("state", string(models.StateReceived)).Int("text_len", len(req.Text)).Str("language", req.LanguageCode).Msg("generation received")

	if err := o.validate(req); err != nil {
		return fail(err)
	}
	if err := o.authorize(ctx, req); err != nil {
		return fail(err)
	}
	transition(models.StateAuthChecked)

	mode := services.ChooseMode(req.Text, o.opts.ShortPromptMaxChars, o.opts.FullDescriptionMinChars)

	// Enhancement and synthesis race the pipeline deadline; persisting starts only after a winner.
	runCtx, cancel := context.WithTimeout(ctx, o.opts.PipelineTimeout)
	defer cancel()

	type produced struct {
		text  string
		audio []byte
		err   *Error
	}
	done := make(chan produced, 1)
	go func() {
		text, data, err := o.produce(runCtx, req, mode, transition)
		done <- produced{text, data, err}
	}()

	var out produced
	select {
	case out = <-done:
	case <-runCtx.Done():
	}
	if runCtx.Err() != nil && (out.err != nil || out.audio == nil) {
		cancel()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(newError(KindTimeout, MsgTimeout, runCtx.Err()))
		}
		return fail(newError(KindUpstream, MsgCancelled, ctx.Err()))
	}
	if out.err != nil {
		return fail(out.err)
	}

	transition(models.StatePersisting)
	persisted, err := o.persister.Persist(ctx, out.audio, Metadata{
		UserID:     req.CallerID,
		SessionID:  req.SessionID,
		SourceText: strings.TrimSpace(req.Text),
		Text:       out.text,
		Language:   req.LanguageCode,
		Voice:      strings.TrimSpace(req.VoiceID),
	})
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = newError(KindStorage, MsgSaveFailed, err)
		}
		return fail(pe)
	}

	// Guests are metered by their record count, so only signed-in callers are charged
	if !req.Guest() {
		if err := o.quota.Consume(ctx, *req.CallerID); err != nil {
			lg.Error().Err(err).Msg("failed to consume quota after successful generation")
		}
	}

	transition(models.StateSucceeded)
	metrics.GenerationsTotal.WithLabelValues("success").Inc()
	metrics.PipelineSeconds.Observe(time.Since(start).Seconds())

	return &models.GenerationResult{
		Success:  true,
		AudioURL: persisted.AudioURL,
		Text:     out.text,
		ID:       persisted.RecordID.String(),
	}, nil
}

func (o *Orchestrator) validate(req models.GenerationRequest) *Error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return newError(KindValidation, MsgTextRequired, nil)
	}
	if n := utf8.RuneCountInString(req.Text); o.opts.MaxTextLength > 0 && n > o.opts.MaxTextLength {
		return newError(KindValidation, "Text must be at most "+strconv.Itoa(o.opts.MaxTextLength)+" characters", nil)
	}
	// An empty voice leaves the choice to the synthesizer's default
	if strings.TrimSpace(req.LanguageCode) == "" {
		return newError(KindValidation, MsgLanguageRequired, nil)
	}
	return nil
}

func (o *Orchestrator) authorize(ctx context.Context, req models.GenerationRequest) *Error {
	var decision quota.Decision
	var err error

	switch {
	case req.ClaimedID != "" && req.CallerID == nil:
		return newError(KindAuth, MsgAuthRequired, nil)
	case req.ClaimedID != "" && !strings.EqualFold(req.ClaimedID, req.CallerID.String()):
		return newError(KindForbidden, MsgUserMismatch, nil)
	case req.CallerID != nil:
		decision, err = o.quota.Check(ctx, *req.CallerID)
	case req.SessionID == "":
		return newError(KindAuth, MsgAuthRequired, nil)
	case !o.opts.GuestGenerations:
		return newError(KindAuth, MsgGuestDisabled, nil)
	default:
		decision, err = o.quota.CheckGuest(ctx, req.SessionID)
	}

	if err != nil {
		return newError(KindInternal, "Failed to check usage limits", err)
	}
	if !decision.Allowed {
		return newError(KindQuotaExceeded, decision.Reason, nil)
	}
	return nil
}

// produce runs the enhance and synthesize stages. It returns the text that was spoken.
func (o *Orchestrator) produce(ctx context.Context, req models.GenerationRequest, mode services.Mode, transition func(models.PipelineState)) (string, []byte, *Error) {
	lg := zerolog.Ctx(ctx)
	text := strings.TrimSpace(req.Text)

	if mode != services.ModeNone && o.enhancer != nil {
		if !o.allow(ctx, "llm", req.ClientIP, o.opts.LLMPerMinute) {
			return "", nil, newError(KindRateLimited, MsgRateLimited, nil)
		}
		transition(models.StateEnhancing)
		if enhanced, ok := o.enhancer.Enhance(ctx, text, req.LanguageCode, mode); ok {
			text = enhanced
		}
	}

	if !o.allow(ctx, "tts", req.ClientIP, o.opts.TTSPerMinute) {
		return "", nil, newError(KindRateLimited, MsgRateLimited, nil)
	}
	transition(models.StateSynthesizing)

	start := time.Now()
	data, err := o.tts.Synthesize(ctx, text, req.LanguageCode, strings.TrimSpace(req.VoiceID))
	metrics.TTSSeconds.WithLabelValues(o.tts.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		status := 0
		var synthErr *services.SynthesisError
		if errors.As(err, &synthErr) {
			status = synthErr.HTTPStatus
		}
		metrics.TTSErrors.WithLabelValues(o.tts.Name(), strconv.Itoa(status)).Inc()

		msg := "Text-to-speech failed"
		if status != 0 {
			msg = fmt.Sprintf("Text-to-speech failed (status %d)", status)
		}
		return "", nil, newError(KindUpstream, msg, err)
	}

	lg.Debug().Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("speech synthesized")
	return text, data, nil
}

// stateLog tracks the current state. The produce goroutine may still be
// transitioning after the request has timed out, so access is locked.
type stateLog struct {
	mu    sync.Mutex
	lg    zerolog.Logger
	state models.PipelineState
}

func (s *stateLog) to(next models.PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.lg.Info().Str("from", string(s.state)).Str("state", string(next)).Msg("pipeline transition")
	s.state = next
}

func (s *stateLog) swap(next models.PipelineState) models.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = next
	return prev
}

// allow consults the rate limiter. A failing limiter store lets the call through.
func (o *Orchestrator) allow(ctx context.Context, api, ip string, max int) bool {
	if o.limiter == nil || max <= 0 {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	ok, err := o.limiter.Allow(ctx, api+":"+ip, rateWindow, max)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("api", api).Msg("rate limiter unavailable, allowing request")
		return true
	}
	if !ok {
		metrics.RateLimited.WithLabelValues(api).Inc()
	}
	return ok
}
