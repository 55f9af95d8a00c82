package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/internal/util"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// ItemFunc processes a single roster entry, typically mutating it in
// place with scraped data.
type ItemFunc func(ctx context.Context, rec *domain.LiverRecord) error

type Config struct {
	Stage       string
	ProgressKey string
	SliceSize   int
	RequestCap  int
	Budget      time.Duration
	ItemDelay   time.Duration
}

// Scheduler drives one incremental stage: each Advance call works
// through at most one slice of the roster, checkpointing the cursor so
// the stage resumes where it left off. The cursor moves on every
// attempt, success or not, so a poisoned item cannot wedge the stage.
type Scheduler struct {
	kv     store.KeyValue
	cfg    Config
	logger *zap.Logger

	// OnLoginWall rebuilds the session; when set, a login-walled item is
	// retried once after a successful rebuild.
	OnLoginWall func(ctx context.Context) error
}

type AdvanceResult struct {
	Attempted []*domain.LiverRecord
	Succeeded int
	Failed    int
	Progress  *domain.BatchProgress
	Complete  bool
}

func New(kv store.KeyValue, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		kv:     kv,
		cfg:    cfg,
		logger: logger,
	}
}

// LoadProgress returns the stage checkpoint, starting fresh when none
// exists or the roster size no longer matches it.
func (s *Scheduler) LoadProgress(ctx context.Context, total int) (*domain.BatchProgress, error) {
	var progress domain.BatchProgress
	found, err := s.kv.Get(ctx, s.cfg.ProgressKey, &progress)
	if err != nil {
		return nil, err
	}
	if !found || !progress.MatchesRoster(total) {
		if found {
			s.logger.Info("Roster changed, restarting stage",
				zap.String("stage", s.cfg.Stage),
				zap.Int("checkpoint_total", progress.TotalItems),
				zap.Int("roster_total", total),
			)
		}
		return &domain.BatchProgress{
			Status:     constants.ProgressIdle,
			TotalItems: total,
		}, nil
	}
	return &progress, nil
}

// Reset discards the checkpoint so the next Advance starts from zero.
func (s *Scheduler) Reset(ctx context.Context) error {
	return s.kv.Del(ctx, s.cfg.ProgressKey)
}

// Advance processes the next slice of the roster. It stops early when
// the invocation budget or the request cap runs out; the checkpoint is
// persisted either way.
func (s *Scheduler) Advance(ctx context.Context, roster []*domain.LiverRecord, handle ItemFunc) (*AdvanceResult, error) {
	progress, err := s.LoadProgress(ctx, len(roster))
	if err != nil {
		return nil, err
	}

	result := &AdvanceResult{Progress: progress}

	if progress.Complete() {
		// A checkpoint left over from an interrupted completion; rotate
		// it out so the next invocation starts a fresh pass.
		progress.Status = constants.ProgressCompleted
		result.Complete = true
		if err := s.rotate(ctx); err != nil {
			return nil, err
		}
		return result, nil
	}

	deadline := time.Now().Add(s.cfg.Budget)
	start := progress.LastIndex
	end := util.Min(start+s.cfg.SliceSize, len(roster))
	requests := 0

	for i := start; i < end; i++ {
		if time.Now().After(deadline) {
			s.logger.Warn("Invocation budget exhausted",
				zap.String("stage", s.cfg.Stage),
				zap.Int("cursor", i),
			)
			break
		}
		if requests >= s.cfg.RequestCap {
			s.logger.Warn("Request cap reached",
				zap.String("stage", s.cfg.Stage),
				zap.Int("cursor", i),
			)
			break
		}

		rec := roster[i]
		requests++
		itemErr := handle(ctx, rec)

		if itemErr != nil && errors.IsLoginWall(itemErr) && s.OnLoginWall != nil {
			s.logger.Warn("Login wall mid-batch, rebuilding session",
				zap.String("stage", s.cfg.Stage),
				zap.String("liver_id", rec.CanonicalID()),
			)
			if loginErr := s.OnLoginWall(ctx); loginErr == nil && requests < s.cfg.RequestCap {
				requests++
				itemErr = handle(ctx, rec)
			}
		}

		progress.LastIndex = i + 1
		result.Attempted = append(result.Attempted, rec)

		if itemErr != nil {
			result.Failed++
			progress.RecordError(fmt.Sprintf("%s: %v", rec.CanonicalID(), itemErr))
			s.logger.Warn("Item failed",
				zap.String("stage", s.cfg.Stage),
				zap.String("liver_id", rec.CanonicalID()),
				zap.Error(itemErr),
			)
		} else {
			result.Succeeded++
			progress.MarkProcessed(rec.CanonicalID())
		}

		if i+1 < end {
			if err := util.SleepContext(ctx, s.cfg.ItemDelay); err != nil {
				break
			}
		}
	}

	if progress.Complete() {
		// The checkpoint rotates out on completion so the next scheduled
		// cycle walks the roster again and failed items get another try.
		progress.Status = constants.ProgressCompleted
		result.Complete = true
		if err := s.rotate(ctx); err != nil {
			return nil, err
		}
	} else {
		progress.Status = constants.ProgressInProgress
		if err := s.persist(ctx, progress); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Slice advanced",
		zap.String("stage", s.cfg.Stage),
		zap.Int("cursor", progress.LastIndex),
		zap.Int("total", progress.TotalItems),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Bool("complete", result.Complete),
	)
	return result, nil
}

func (s *Scheduler) persist(ctx context.Context, progress *domain.BatchProgress) error {
	progress.UpdatedAt = time.Now()
	return s.kv.Set(ctx, s.cfg.ProgressKey, progress, 0)
}

func (s *Scheduler) rotate(ctx context.Context) error {
	return s.kv.Del(ctx, s.cfg.ProgressKey)
}
