package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobarin/audiodesc/internal/account"
	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/bobarin/audiodesc/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sessionHeader = "X-Session-ID"

// Generator runs one generation; *pipeline.Orchestrator implements it.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error)
}

// ObjectDeleter removes stored audio objects.
type ObjectDeleter interface {
	Delete(ctx context.Context, paths ...string) error
}

type Handler struct {
	generator Generator
	accounts  *account.Service
	files     db.AudioFileRepository
	settings  db.SettingsRepository
	feedback  db.FeedbackRepository
	objects   ObjectDeleter // nil when audio is embedded as data URLs
}

func NewHandler(gen Generator, accounts *account.Service, files db.AudioFileRepository, settings db.SettingsRepository, feedback db.FeedbackRepository, objects ObjectDeleter) *Handler {
	return &Handler{
		generator: gen,
		accounts:  accounts,
		files:     files,
		settings:  settings,
		feedback:  feedback,
		objects:   objects,
	}
}

// Generate handles POST /v1/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	genReq := models.GenerationRequest{
		Text:         req.Text,
		LanguageCode: strings.TrimSpace(req.Language),
		VoiceID:      strings.TrimSpace(req.Voice),
		ClaimedID:    strings.TrimSpace(req.UserID),
		SessionID:    sessionID(r, req.SessionID),
		ClientIP:     clientIP(r),
		RequestID:    middleware.GetReqID(r.Context()),
	}
	if c := CallerFrom(r.Context()); c != nil {
		id := c.ID
		genReq.CallerID = &id
	}

	result, err := h.generator.Generate(r.Context(), genReq)
	if err != nil {
		respondJSON(w, statusFor(pipeline.KindOf(err)), models.GenerationResult{Error: pipeline.PublicMessage(err)})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// StartSession handles POST /v1/session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())

	var req models.SessionStartRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.accounts.StartSession(r.Context(), caller.ID, caller.Email, sessionID(r, req.SessionID))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("session start failed")
		respondError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListAudio handles GET /v1/audio
// Query params:
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
//   - all:    admins only, list every caller's records
func (h *Handler) ListAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := pagination(r)

	var files []models.AudioFile
	var err error

	caller := CallerFrom(ctx)
	switch {
	case caller != nil && r.URL.Query().Get("all") == "true":
		isAdmin, aerr := h.accounts.IsAdmin(ctx, caller.ID)
		if aerr != nil {
			respondError(w, http.StatusInternalServerError, "Failed to check permissions")
			return
		}
		if !isAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		files, err = h.files.ListAll(ctx, limit, offset)
	case caller != nil:
		files, err = h.files.ListByUser(ctx, caller.ID, limit, offset)
	case sessionID(r, "") != "":
		files, err = h.files.ListBySession(ctx, sessionID(r, ""), limit, offset)
	default:
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to list audio files")
		respondError(w, http.StatusInternalServerError, "Failed to list audio files")
		return
	}

	if files == nil {
		files = []models.AudioFile{}
	}

	respondJSON(w, http.StatusOK, models.ListAudioResponse{
		Files:  files,
		Limit:  limit,
		Offset: offset,
	})
}

// DeleteAudio handles DELETE /v1/audio/{id}
func (h *Handler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid audio ID")
		return
	}

	file, err := h.files.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Audio not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load audio")
		return
	}

	caller := CallerFrom(ctx)
	var callerID *uuid.UUID
	if caller != nil {
		callerID = &caller.ID
	}

	if !file.OwnedBy(callerID, sessionID(r, "")) {
		if caller == nil {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		isAdmin, err := h.accounts.IsAdmin(ctx, caller.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to check permissions")
			return
		}
		if !isAdmin {
			respondError(w, http.StatusForbidden, "You can only delete your own audio")
			return
		}
	}

	if file.FilePath != nil && h.objects != nil {
		if err := h.objects.Delete(ctx, *file.FilePath); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", *file.FilePath).Msg("failed to delete stored audio")
		}
	}

	if err := h.files.Delete(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "Failed to delete audio")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CreateFeedback handles POST /v1/feedback
func (h *Handler) CreateFeedback(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Rating < 1 || req.Rating > 5 {
		respondError(w, http.StatusBadRequest, "Rating must be between 1 and 5")
		return
	}
	if len(req.Comment) > 2000 {
		respondError(w, http.StatusBadRequest, "Comment must be at most 2000 characters")
		return
	}

	fb := &models.Feedback{
		ID:      uuid.New(),
		AudioID: req.AudioID,
		Rating:  req.Rating,
		Comment: strings.TrimSpace(req.Comment),
	}
	if c := CallerFrom(r.Context()); c != nil {
		id := c.ID
		fb.UserID = &id
	}

	if err := h.feedback.Create(r.Context(), fb); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to store feedback")
		respondError(w, http.StatusInternalServerError, "Failed to save feedback")
		return
	}

	respondJSON(w, http.StatusCreated, fb)
}

// GetSettings handles GET /v1/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /v1/admin/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UnlimitedGenerationsForAll == nil {
		respondError(w, http.StatusBadRequest, "unlimitedGenerationsForAll is required")
		return
	}

	s, err := h.settings.SetUnlimitedGenerations(r.Context(), *req.UnlimitedGenerationsForAll)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	zerolog.Ctx(r.Context()).Info().Bool("unlimited_generations_for_all", s.UnlimitedGenerationsForAll).Msg("app settings updated")
	respondJSON(w, http.StatusOK, s)
}

// RequireAdmin rejects callers without the admin role.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFrom(r.Context())
		if caller == nil {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		isAdmin, err := h.accounts.IsAdmin(r.Context(), caller.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to check permissions")
			return
		}
		if !isAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps a pipeline failure kind to its HTTP status.
func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindValidation:
		return http.StatusBadRequest
	case pipeline.KindAuth:
		return http.StatusUnauthorized
	case pipeline.KindForbidden, pipeline.KindQuotaExceeded:
		return http.StatusForbidden
	case pipeline.KindRateLimited:
		return http.StatusTooManyRequests
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(r *http.Request, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	return strings.TrimSpace(r.Header.Get(sessionHeader))
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// decodeBody reads a JSON body into dst, answering 413 past the LimitBody cap
// and 400 for anything else that fails to decode.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	respondError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes the failure envelope shared by every endpoint.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.GenerationResult{Success: false, Error: message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
