package services

import (
	"context"
	"fmt"

	"github.com/bobarin/audiodesc/internal/audio"
)

// ---------------------------------------------------------------------------
// Synthesizer is the common interface for text-to-speech providers.
// OpenAI, Google Cloud TTS and ElevenLabs implement this interface so the
// pipeline can use whichever one the deployment is configured for.
// ---------------------------------------------------------------------------

// Synthesizer converts text into an mp3 byte buffer.
type Synthesizer interface {
	// Name identifies the provider in logs, metrics and error messages.
	Name() string
	// Synthesize returns the audio bytes, or a *SynthesisError when the
	// provider rejects the call or omits the audio payload.
	Synthesize(ctx context.Context, text, languageCode, voiceID string) ([]byte, error)
}

// SynthesisError describes a failed TTS call. HTTPStatus is 0 when the call
// never produced a response (transport failure, cancelled context).
type SynthesisError struct {
	Provider   string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s text-to-speech failed (status %d): %s", e.Provider, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s text-to-speech failed: %s", e.Provider, e.Message)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// truncateString keeps the first maxLen runes and appends "..." if anything was cut.
func truncateString(s string, maxLen int) string {
	if t := audio.Truncate(s, maxLen); len(t) < len(s) {
		return t + "..."
	}
	return s
}
