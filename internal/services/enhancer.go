package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobarin/audiodesc/internal/metrics"
	"github.com/rs/zerolog"
)

// Mode selects how much the LLM is allowed to write.
type Mode int

const (
	// ModeNone means the input is already a full description; no LLM call.
	ModeNone Mode = iota
	// ModeEnhance rewrites a short prompt into a few spoken sentences.
	ModeEnhance
	// ModeFullDescription expands a bare product title into a full description.
	ModeFullDescription
)

func (m Mode) String() string {
	switch m {
	case ModeEnhance:
		return "enhance"
	case ModeFullDescription:
		return "full_description"
	default:
		return "none"
	}
}

// Token budgets per mode.
const (
	EnhanceMaxTokens         = 150
	FullDescriptionMaxTokens = 400
)

// MaxTokens returns the completion budget for the mode.
func (m Mode) MaxTokens() int {
	if m == ModeFullDescription {
		return FullDescriptionMaxTokens
	}
	return EnhanceMaxTokens
}

// ChooseMode applies the input-length heuristic: titles shorter than
// shortMax get a full description, texts shorter than fullMin get enhanced,
// anything longer is used as is.
func ChooseMode(text string, shortMax, fullMin int) Mode {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n < shortMax:
		return ModeFullDescription
	case n < fullMin:
		return ModeEnhance
	default:
		return ModeNone
	}
}

// ChatBackend is one LLM chat-completion provider.
type ChatBackend interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Enhancer turns short product text into a narration script. Every failure is
// soft: Enhance reports ok=false and the caller keeps the original text.
type Enhancer struct {
	backend ChatBackend
	timeout time.Duration
}

func NewEnhancer(backend ChatBackend, timeout time.Duration) *Enhancer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Enhancer{backend: backend, timeout: timeout}
}

// Enhance returns the rewritten text, or ok=false on timeout, transport
// error or empty output.
func (e *Enhancer) Enhance(ctx context.Context, text, languageCode string, mode Mode) (string, bool) {
	if e == nil || e.backend == nil || mode == ModeNone {
		return "", false
	}

	lg := zerolog.Ctx(ctx).With().Str("component", "enhancer").Str("provider", e.backend.Name()).Logger()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type completion struct {
		text string
		err  error
	}
	done := make(chan completion, 1)

	start := time.Now()
	go func() {
		out, err := e.backend.Complete(ctx, SystemPromptFor(languageCode), UserPromptFor(text, mode), mode.MaxTokens())
		done <- completion{out, err}
	}()

	// A backend that ignores ctx still cannot hold the request past the timeout
	var out string
	var err error
	select {
	case c := <-done:
		out, err = c.text, c.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.EnhanceSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EnhanceFallbacks.Inc()
		lg.Warn().Err(err).Str("mode", mode.String()).Msg("description enhancement failed, using original text")
		return "", false
	}

	out = strings.TrimSpace(out)
	if out == "" {
		metrics.EnhanceFallbacks.Inc()
		lg.Warn().Str("mode", mode.String()).Msg("enhancer returned no content, using original text")
		return "", false
	}

	lg.Debug().
		Str("mode", mode.String()).
		Int("in_len", len(text)).
		Int("out_len", len(out)).
		Dur("took", time.Since(start)).
		Msg("description enhanced")
	return out, true
}
