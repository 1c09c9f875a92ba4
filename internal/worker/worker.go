// Package worker runs background maintenance. Its one job is sweeping guest
// audio that was never adopted into an account.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/audiodesc/internal/db"
	"github.com/bobarin/audiodesc/internal/metrics"
	"github.com/bobarin/audiodesc/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const sweepBatchSize = 200

// ObjectDeleter removes stored objects; nil when audio lives in data URLs.
type ObjectDeleter interface {
	Delete(ctx context.Context, paths ...string) error
}

type Sweeper struct {
	files       db.AudioFileRepository
	objects     ObjectDeleter
	ttl         time.Duration
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

func NewSweeper(files db.AudioFileRepository, objects ObjectDeleter, ttl, interval time.Duration, concurrency int) *Sweeper {
	if concurrency <= 0 {
		concurrency = 4
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		files:       files,
		objects:     objects,
		ttl:         ttl,
		interval:    interval,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Start sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	lg := zerolog.Ctx(ctx).With().Str("component", "sweeper").Logger()
	ctx = lg.WithContext(ctx)
	lg.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Int("concurrency", s.concurrency).Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			lg.Error().Err(err).Int("deleted", n).Msg("sweep failed")
		} else if n > 0 {
			lg.Info().Int("deleted", n).Msg("expired guest audio removed")
		}

		select {
		case <-ctx.Done():
			lg.Info().Msg("sweeper shutting down")
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes temporary records older than the TTL, together with their
// stored objects, and returns how many rows were removed. A record whose
// object could not be deleted is kept for the next run.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	total := 0

	for {
		batch, err := s.files.ListExpiredTemporary(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list expired audio: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		deleted, err := s.sweepBatch(ctx, batch)
		total += deleted
		if err != nil {
			return total, err
		}
		// Nothing removable left in this batch; stop rather than re-list it forever
		if deleted < len(batch) || len(batch) < sweepBatchSize {
			return total, nil
		}
	}
}

func (s *Sweeper) sweepBatch(ctx context.Context, batch []models.AudioFile) (int, error) {
	lg := zerolog.Ctx(ctx)
	results := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range batch {
		i, file := i, batch[i]
		g.Go(func() error {
			if file.FilePath != nil && s.objects != nil {
				if err := s.objects.Delete(gctx, *file.FilePath); err != nil {
					lg.Warn().Err(err).Str("audio_id", file.ID.String()).Msg("failed to delete stored object, keeping record")
					return nil
				}
			}
			if err := s.files.Delete(gctx, file.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("failed to delete audio record %s: %w", file.ID, err)
			}
			results[i] = true
			return nil
		})
	}

	err := g.Wait()

	deleted := 0
	for _, ok := range results {
		if ok {
			deleted++
		}
	}
	metrics.SweptRecords.Add(float64(deleted))
	return deleted, err
}
