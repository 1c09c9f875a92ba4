package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums
type Role string

const (
	RoleAdmin Role = "admin"
)

type PipelineState string

const (
	StateReceived     PipelineState = "received"
	StateAuthChecked  PipelineState = "auth_checked"
	StateEnhancing    PipelineState = "enhancing"
	StateSynthesizing PipelineState = "synthesizing"
	StatePersisting   PipelineState = "persisting"
	StateSucceeded    PipelineState = "succeeded"
	StateFailed       PipelineState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s PipelineState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Models

type Profile struct {
	ID                   uuid.UUID `json:"id"`
	Plan                 string    `json:"plan"` // "free", "pro", "business"
	DailyLimit           int       `json:"daily_limit"`
	RemainingGenerations int       `json:"remaining_generations"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type AudioFile struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	SessionID   *string    `json:"session_id,omitempty"` // guest session, nil once adopted
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Language    string     `json:"language"`
	VoiceName   string     `json:"voice_name"`
	AudioURL    string     `json:"audio_url"`
	FilePath    *string    `json:"file_path,omitempty"` // object-store path, nil for inline data URLs
	IsTemporary bool       `json:"is_temporary"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OwnedBy reports whether the record belongs to the given user or guest session.
func (a *AudioFile) OwnedBy(userID *uuid.UUID, sessionID string) bool {
	if userID != nil && a.UserID != nil && *a.UserID == *userID {
		return true
	}
	return sessionID != "" && a.SessionID != nil && *a.SessionID == sessionID
}

type AppSettings struct {
	UnlimitedGenerationsForAll bool      `json:"unlimited_generations_for_all"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

type Feedback struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	AudioID   *uuid.UUID `json:"audio_id,omitempty"`
	Rating    int        `json:"rating"`
	Comment   string     `json:"comment"`
	CreatedAt time.Time  `json:"created_at"`
}

// GenerationRequest is one incoming text-to-audio request. It is never persisted.
type GenerationRequest struct {
	Text         string
	LanguageCode string
	VoiceID      string
	CallerID     *uuid.UUID // verified from the bearer token, nil for guests
	ClaimedID    string     // userId as sent in the body, must match CallerID
	SessionID    string     // guest session, required when CallerID is nil
	ClientIP     string
	RequestID    string
}

// Guest reports whether the request comes from an anonymous session.
func (r *GenerationRequest) Guest() bool {
	return r.CallerID == nil
}

// GenerationResult is the uniform envelope returned to the caller.
type GenerationResult struct {
	Success  bool   `json:"success"`
	AudioURL string `json:"audioUrl,omitempty"`
	Text     string `json:"text,omitempty"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DTOs for API requests and responses

type GenerateRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	Voice     string `json:"voice"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type SessionStartRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

type SessionStartResponse struct {
	Profile        *Profile `json:"profile"`
	IsAdmin        bool     `json:"isAdmin"`
	AdoptedRecords int64    `json:"adoptedRecords"`
}

type ListAudioResponse struct {
	Files  []AudioFile `json:"files"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type CreateFeedbackRequest struct {
	AudioID *uuid.UUID `json:"audioId,omitempty"`
	Rating  int        `json:"rating"`
	Comment string     `json:"comment"`
}

type UpdateSettingsRequest struct {
	UnlimitedGenerationsForAll *bool `json:"unlimitedGenerationsForAll"`
}
