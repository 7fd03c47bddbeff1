package scheduler

import (
	"context"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// sweepBatchLimit caps how many abandoned records one tick rescues. The next
// tick picks up the rest.
const sweepBatchLimit = 100

// tokenExpiryWarning is how close to expiry the token check starts alerting.
const tokenExpiryWarning = 7 * 24 * time.Hour

// Maintenance owns the periodic pipeline repair jobs: reclaiming records
// abandoned by crashed workers, rescuing retry records whose queue envelope
// was lost, compacting the store, and warning before the platform token
// expires.
type Maintenance struct {
	classifications interfaces.ClassificationStorage
	answers         interfaces.AnswerStorage
	queue           interfaces.QueueManager
	platform        interfaces.PlatformClient
	db              *badger.DB
	staleness       time.Duration
	logger          arbor.ILogger
}

func NewMaintenance(
	classifications interfaces.ClassificationStorage,
	answers interfaces.AnswerStorage,
	queue interfaces.QueueManager,
	platform interfaces.PlatformClient,
	db *badger.DB,
	config *common.Config,
	logger arbor.ILogger,
) *Maintenance {
	staleness, _ := config.ParseDuration(config.Retry.StalenessTimeout, 10*time.Minute)
	return &Maintenance{
		classifications: classifications,
		answers:         answers,
		queue:           queue,
		platform:        platform,
		db:              db,
		staleness:       staleness,
		logger:          logger,
	}
}

// RegisterAll wires every maintenance job into the scheduler using the
// configured cron expressions.
func (m *Maintenance) RegisterAll(s *Service, config *common.SchedulerConfig) error {
	jobs := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{"stale_reclaim", config.StaleReclaimSchedule, "re-enqueue records abandoned by crashed workers", m.ReclaimStale},
		{"retry_sweep", config.RetrySweepSchedule, "rescue retry records whose queue envelope was lost", m.SweepRetries},
		{"store_gc", config.LockGCSchedule, "compact the Badger value log", m.CollectGarbage},
		{"token_check", config.TokenCheckSchedule, "warn before the platform access token expires", m.CheckTokenExpiry},
	}

	for _, job := range jobs {
		if err := s.RegisterJob(job.name, job.schedule, job.description, job.handler); err != nil {
			return err
		}
	}
	return nil
}

// ReclaimStale re-enqueues classification and answer records stuck in
// "processing" past the staleness timeout. The stage re-runs them from a
// clean retry state.
func (m *Maintenance) ReclaimStale() error {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-m.staleness)

	stale, err := m.classifications.ListStale(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("listing stale classifications: %w", err)
	}
	for _, record := range stale {
		record.MarkRetry("reclaimed: processing record untouched past staleness timeout")
		if err := m.classifications.UpdateClassification(ctx, record); err != nil {
			m.logger.Warn().Err(err).Str("comment_id", record.CommentID).Msg("Failed to mark stale classification for retry")
			continue
		}
		m.enqueueRescue(ctx, record.CommentID, models.StageClassify, record.RetryCount)
	}

	staleAnswers, err := m.answers.ListStale(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("listing stale answers: %w", err)
	}
	for _, record := range staleAnswers {
		record.MarkRetry("reclaimed: processing record untouched past staleness timeout")
		if err := m.answers.UpdateAnswer(ctx, record); err != nil {
			m.logger.Warn().Err(err).Str("comment_id", record.CommentID).Msg("Failed to mark stale answer for retry")
			continue
		}
		m.enqueueRescue(ctx, record.CommentID, models.StageAnswer, record.RetryCount)
	}

	if len(stale) > 0 || len(staleAnswers) > 0 {
		m.logger.Info().
			Int("classifications", len(stale)).
			Int("answers", len(staleAnswers)).
			Msg("Stale records reclaimed")
	}
	return nil
}

// SweepRetries re-enqueues classification records parked in "retry" whose
// backoff window has long passed, meaning their re-drive envelope was lost
// (poison-dropped or a crash between persist and enqueue).
func (m *Maintenance) SweepRetries() error {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-m.staleness)

	retryable, err := m.classifications.ListRetryable(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		return fmt.Errorf("listing retryable classifications: %w", err)
	}
	for _, record := range retryable {
		if record.RetriesExhausted() {
			record.MarkFailed("retry budget exhausted at rescue")
			if err := m.classifications.UpdateClassification(ctx, record); err != nil {
				m.logger.Warn().Err(err).Str("comment_id", record.CommentID).Msg("Failed to finalize exhausted classification")
			}
			continue
		}
		m.enqueueRescue(ctx, record.CommentID, models.StageClassify, record.RetryCount)
	}

	if len(retryable) > 0 {
		m.logger.Info().Int("count", len(retryable)).Msg("Lost retry records rescued")
	}
	return nil
}

// CollectGarbage rewrites Badger value log files that are mostly dead data
// (expired locks, deleted queue messages). ErrNoRewrite means nothing was
// worth compacting.
func (m *Maintenance) CollectGarbage() error {
	if m.db == nil {
		return nil
	}

	rewrites := 0
	for {
		err := m.db.RunValueLogGC(0.5)
		if err == badger.ErrNoRewrite {
			break
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
		rewrites++
		if rewrites >= 5 {
			break
		}
	}

	if rewrites > 0 {
		m.logger.Info().Int("rewrites", rewrites).Msg("Store garbage collected")
	}
	return nil
}

// CheckTokenExpiry warns when the platform access token is close to expiry.
// Expired tokens stop the whole outbound pipeline, so the warning starts a
// week out.
func (m *Maintenance) CheckTokenExpiry() error {
	if m.platform == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expiry, err := m.platform.TokenExpiration(ctx)
	if err != nil {
		return fmt.Errorf("checking token expiration: %w", err)
	}
	if expiry.IsZero() {
		m.logger.Debug().Msg("Platform token reports no expiry")
		return nil
	}

	remaining := time.Until(expiry)
	if remaining <= 0 {
		m.logger.Error().Str("expired_at", expiry.Format(time.RFC3339)).Msg("Platform access token is expired")
		return fmt.Errorf("platform access token expired at %s", expiry.Format(time.RFC3339))
	}
	if remaining <= tokenExpiryWarning {
		m.logger.Warn().
			Str("expires_at", expiry.Format(time.RFC3339)).
			Float64("days_remaining", remaining.Hours()/24).
			Msg("Platform access token expires soon, refresh or replace it")
	} else {
		m.logger.Debug().
			Str("expires_at", expiry.Format(time.RFC3339)).
			Msg("Platform access token healthy")
	}
	return nil
}

func (m *Maintenance) enqueueRescue(ctx context.Context, commentID string, stage models.Stage, attempt int) {
	task := models.NewTask(commentID, stage)
	task.Attempt = attempt
	if err := m.queue.Enqueue(ctx, task); err != nil {
		m.logger.Warn().
			Err(err).
			Str("comment_id", commentID).
			Str("stage", string(stage)).
			Msg("Failed to enqueue rescue task")
		return
	}
	m.logger.Debug().
		Str("comment_id", commentID).
		Str("stage", string(stage)).
		Int("attempt", attempt).
		Msg("Rescue task enqueued")
}
