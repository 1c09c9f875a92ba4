// Package dbtest provides in-memory repositories for tests of packages that
// sit on top of internal/db.
package dbtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/google/uuid"
)

// Store holds every table in maps. The Err* fields, when set, are returned
// by the matching operation so tests can inject failures.
type Store struct {
	mu sync.Mutex

	Profiles map[uuid.UUID]*models.Profile
	Files    map[uuid.UUID]*models.AudioFile
	Roles    map[uuid.UUID]map[models.Role]bool
	Feedback []models.Feedback
	Settings models.AppSettings

	ErrCreateFile error
	ErrSettings   error
	ErrDecrement  error

	Decrements int
	now        func() time.Time
}

func New() *Store {
	return &Store{
		Profiles: make(map[uuid.UUID]*models.Profile),
		Files:    make(map[uuid.UUID]*models.AudioFile),
		Roles:    make(map[uuid.UUID]map[models.Role]bool),
		now:      time.Now,
	}
}

// SetProfile seeds a profile with the given remaining count.
func (s *Store) SetProfile(id uuid.UUID, dailyLimit, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profiles[id] = &models.Profile{ID: id, Plan: "free", DailyLimit: dailyLimit, RemainingGenerations: remaining}
}

// Remaining returns the stored remaining count, or -1 when there is no profile.
func (s *Store) Remaining(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Profiles[id]; ok {
		return p.RemainingGenerations
	}
	return -1
}

// FileCount returns the number of stored audio records.
func (s *Store) FileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Files)
}

// AddFile stores a record as is, keeping its CreatedAt.
func (s *Store) AddFile(f models.AudioFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	s.Files[f.ID] = &f
}

func (s *Store) AudioFiles() db.AudioFileRepository { return (*audioFiles)(s) }
func (s *Store) ProfileRepo() db.ProfileRepository { return (*profiles)(s) }
func (s *Store) SettingsRepo() db.SettingsRepository { return (*settings)(s) }
func (s *Store) RoleRepo() db.RoleRepository { return (*roles)(s) }
func (s *Store) FeedbackRepo() db.FeedbackRepository { return (*feedback)(s) }

type audioFiles Store

func (r *audioFiles) Create(_ context.Context, f *models.AudioFile) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrCreateFile != nil {
		return s.ErrCreateFile
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = s.now()
	cp := *f
	s.Files[f.ID] = &cp
	return nil
}

func (r *audioFiles) Get(_ context.Context, id uuid.UUID) (*models.AudioFile, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[id]
	if !ok {
		return nil, fmt.Errorf("audio file %s: %w", id, db.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (r *audioFiles) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.AudioFile, error) {
	return (*Store)(r).filter(func(f *models.AudioFile) bool {
		return f.UserID != nil && *f.UserID == userID
	}, limit, offset), nil
}

func (r *audioFiles) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]models.AudioFile, error) {
	return (*Store)(r).filter(func(f *models.AudioFile) bool {
		return f.SessionID != nil && *f.SessionID == sessionID
	}, limit, offset), nil
}

func (r *audioFiles) ListAll(_ context.Context, limit, offset int) ([]models.AudioFile, error) {
	return (*Store)(r).filter(func(*models.AudioFile) bool { return true }, limit, offset), nil
}

func (r *audioFiles) CountSessionSince(_ context.Context, sessionID string, since time.Time) (int, error) {
	files := (*Store)(r).filter(func(f *models.AudioFile) bool {
		return f.SessionID != nil && *f.SessionID == sessionID && !f.CreatedAt.Before(since)
	}, 0, 0)
	return len(files), nil
}

func (r *audioFiles) AdoptSession(_ context.Context, sessionID string, userID uuid.UUID) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, f := range s.Files {
		if f.IsTemporary && f.SessionID != nil && *f.SessionID == sessionID {
			uid := userID
			f.UserID = &uid
			f.SessionID = nil
			f.IsTemporary = false
			n++
		}
	}
	return n, nil
}

func (r *audioFiles) ListExpiredTemporary(_ context.Context, olderThan time.Time, limit int) ([]models.AudioFile, error) {
	return (*Store)(r).filter(func(f *models.AudioFile) bool {
		return f.IsTemporary && f.CreatedAt.Before(olderThan)
	}, limit, 0), nil
}

func (r *audioFiles) Delete(_ context.Context, id uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Files[id]; !ok {
		return fmt.Errorf("audio file %s: %w", id, db.ErrNotFound)
	}
	delete(s.Files, id)
	return nil
}

// filter returns matching records newest first; limit 0 means no limit.
func (s *Store) filter(match func(*models.AudioFile) bool, limit, offset int) []models.AudioFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AudioFile
	for _, f := range s.Files {
		if match(f) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return []models.AudioFile{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

type profiles Store

func (r *profiles) GetOrCreate(_ context.Context, id uuid.UUID, plan string, dailyLimit int) (*models.Profile, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[id]
	if !ok {
		p = &models.Profile{ID: id, Plan: plan, DailyLimit: dailyLimit, RemainingGenerations: dailyLimit, CreatedAt: s.now()}
		s.Profiles[id] = p
	}
	cp := *p
	return &cp, nil
}

func (r *profiles) DecrementRemaining(_ context.Context, id uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrDecrement != nil {
		return s.ErrDecrement
	}
	p, ok := s.Profiles[id]
	if !ok {
		return fmt.Errorf("profile %s: %w", id, db.ErrNotFound)
	}
	if p.RemainingGenerations > 0 {
		p.RemainingGenerations--
	}
	s.Decrements++
	return nil
}

type settings Store

func (r *settings) Get(context.Context) (*models.AppSettings, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrSettings != nil {
		return nil, s.ErrSettings
	}
	cp := s.Settings
	return &cp, nil
}

func (r *settings) SetUnlimitedGenerations(_ context.Context, enabled bool) (*models.AppSettings, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings.UnlimitedGenerationsForAll = enabled
	s.Settings.UpdatedAt = s.now()
	cp := s.Settings
	return &cp, nil
}

type roles Store

func (r *roles) HasRole(_ context.Context, userID uuid.UUID, role models.Role) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Roles[userID][role], nil
}

func (r *roles) Assign(_ context.Context, userID uuid.UUID, role models.Role) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Roles[userID] == nil {
		s.Roles[userID] = make(map[models.Role]bool)
	}
	s.Roles[userID][role] = true
	return nil
}

type feedback Store

func (r *feedback) Create(_ context.Context, fb *models.Feedback) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	fb.CreatedAt = s.now()
	s.Feedback = append(s.Feedback, *fb)
	return nil
}
