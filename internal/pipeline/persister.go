package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobarin/audiodesc/internal/audio"
	"github.com/bobarin/audiodesc/internal/config"
	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/metrics"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/bobarin/audiodesc/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	titleMaxRunes       = 80
	descriptionMaxRunes = 1000
	uploadContentType   = "audio/mpeg"
	defaultVoiceName    = "default"
)

// ObjectStore is the subset of the Supabase storage client the persister needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, paths ...string) error
	GetPublicURL(path string) string
}

// Metadata describes the audio being saved.
type Metadata struct {
	UserID     *uuid.UUID
	SessionID  string
	SourceText string // what the caller submitted
	Text       string // what was spoken, possibly enhanced
	Language   string
	Voice      string
}

type Persisted struct {
	AudioURL string
	RecordID uuid.UUID
}

// Persister stores generated audio and writes its history row.
type Persister struct {
	strategy string
	files    db.AudioFileRepository
	store    ObjectStore
}

// NewPersister returns a persister for config.PersistDataURL or
// config.PersistStorage. store may be nil for the data-URL strategy.
func NewPersister(strategy string, files db.AudioFileRepository, store ObjectStore) *Persister {
	return &Persister{strategy: strategy, files: files, store: store}
}

// Persist saves audio and returns its URL and record id. Failures are
// *Error values of KindStorage.
func (p *Persister) Persist(ctx context.Context, data []byte, md Metadata) (*Persisted, error) {
	lg := zerolog.Ctx(ctx)

	var audioURL string
	var filePath *string

	switch p.strategy {
	case config.PersistStorage:
		if p.store == nil {
			return nil, newError(KindStorage, MsgSaveFailed, fmt.Errorf("no object store configured"))
		}
		if err := p.store.EnsureBucket(ctx); err != nil {
			metrics.StorageUploads.WithLabelValues("bucket_error").Inc()
			return nil, newError(KindStorage, MsgSaveFailed, err)
		}

		path := storage.ObjectPath(md.UserID, md.SessionID)
		start := time.Now()
		if err := p.store.Upload(ctx, path, data, uploadContentType); err != nil {
			metrics.StorageUploads.WithLabelValues("error").Inc()
			return nil, newError(KindStorage, MsgSaveFailed, err)
		}
		metrics.StorageUploads.WithLabelValues("ok").Inc()
		lg.Debug().Str("path", path).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("audio uploaded")

		audioURL = p.store.GetPublicURL(path)
		filePath = &path

	default:
		audioURL = audio.DataURL(audio.MimeMP3, data)
	}

	source := strings.TrimSpace(md.SourceText)
	if source == "" {
		source = strings.TrimSpace(md.Text)
	}
	voice := md.Voice
	if voice == "" {
		voice = defaultVoiceName
	}

	record := &models.AudioFile{
		ID:          uuid.New(),
		UserID:      md.UserID,
		Title:       audio.Truncate(source, titleMaxRunes),
		Description: audio.Truncate(strings.TrimSpace(md.Text), descriptionMaxRunes),
		Language:    md.Language,
		VoiceName:   voice,
		AudioURL:    audioURL,
		FilePath:    filePath,
		IsTemporary: md.UserID == nil,
	}
	if md.UserID == nil {
		sess := md.SessionID
		record.SessionID = &sess
	}

	if err := p.files.Create(ctx, record); err != nil {
		if filePath != nil {
			// Nothing would reference the object without its row
			if delErr := p.store.Delete(context.WithoutCancel(ctx), *filePath); delErr != nil {
				lg.Warn().Err(delErr).Str("path", *filePath).Msg("failed to remove uploaded audio after insert failure")
			}
		}
		return nil, newError(KindStorage, MsgSaveFailed, err)
	}

	return &Persisted{AudioURL: audioURL, RecordID: record.ID}, nil
}
