package replies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// Dispatch outcome sentinels. The stage worker maps these onto the failure
// taxonomy; the dispatcher itself never retries.
var (
	// ErrReplyInFlight: another worker holds the reply lock for this comment.
	ErrReplyInFlight = errors.New("reply dispatch already in flight")
	// ErrRateBudgetExhausted: no limiter slot became free within max wait.
	ErrRateBudgetExhausted = errors.New("reply rate budget exhausted")
)

// Status classifies a successful dispatch call.
type Status string

const (
	// StatusSent: this call posted the reply.
	StatusSent Status = "sent"
	// StatusSkipped: the reply was already dispatched earlier, nothing was
	// sent now.
	StatusSkipped Status = "skipped"
)

// Result reports what one Dispatch call did.
type Result struct {
	Status  Status
	ReplyID string
}

// Dispatcher posts generated answers as platform replies, exactly once per
// comment. Idempotency is layered: a stored-state short-circuit, a per-comment
// reply lock, and the reply-id uniqueness reservation on the final write.
type Dispatcher struct {
	answers  interfaces.AnswerStorage
	locks    interfaces.LockManager
	platform interfaces.PlatformClient
	limiter  *rate.Limiter
	lockTTL  time.Duration
	maxWait  time.Duration
	logger   arbor.ILogger
}

func NewDispatcher(
	answers interfaces.AnswerStorage,
	locks interfaces.LockManager,
	platform interfaces.PlatformClient,
	config *common.Config,
	logger arbor.ILogger,
) (*Dispatcher, error) {
	if answers == nil || locks == nil || platform == nil {
		return nil, fmt.Errorf("answer storage, lock manager and platform client are required")
	}

	perHour := config.Instagram.RepliesPerHour
	if perHour < 1 {
		perHour = 1
	}
	burst := config.Instagram.ReplyBurst
	if burst < 1 {
		burst = 1
	}

	lockTTL, _ := config.ParseDuration(config.Locks.DefaultTTL, 3*time.Minute)
	maxWait, _ := config.ParseDuration(config.Instagram.ReplyMaxWait, 30*time.Second)

	return &Dispatcher{
		answers:  answers,
		locks:    locks,
		platform: platform,
		limiter:  rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), burst),
		lockTTL:  lockTTL,
		maxWait:  maxWait,
		logger:   logger,
	}, nil
}

// Dispatch sends the stored answer for commentID as a platform reply.
//
// Sequence: short-circuit on already-dispatched state, acquire the reply
// lock, reserve a limiter slot within max wait, flatten the answer text, post
// it, then persist the reply id under the uniqueness reservation. A duplicate
// reservation means a racing dispatcher already sent it; that is success.
func (d *Dispatcher) Dispatch(ctx context.Context, commentID string) (*Result, error) {
	answer, err := d.answers.GetAnswer(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("loading answer for comment %s: %w", commentID, err)
	}
	if answer.AlreadyDispatched() || answer.ReplyStatus == models.ReplyStatusSuppressed {
		d.logger.Debug().
			Str("comment_id", commentID).
			Str("reply_id", answer.ReplyID).
			Str("reply_status", answer.ReplyStatus).
			Msg("Reply already dispatched, skipping")
		return &Result{Status: StatusSkipped, ReplyID: answer.ReplyID}, nil
	}
	if answer.Text == "" {
		return nil, fmt.Errorf("comment %s: answer has no text to dispatch", commentID)
	}

	lockKey := "reply:" + commentID
	token, acquired, err := d.locks.Acquire(ctx, lockKey, d.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring reply lock for comment %s: %w", commentID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("comment %s: %w", commentID, ErrReplyInFlight)
	}
	defer func() {
		// A failed release is tolerable: the lock expires at TTL.
		if releaseErr := d.locks.Release(ctx, lockKey, token); releaseErr != nil {
			d.logger.Warn().Err(releaseErr).Str("comment_id", commentID).Msg("Failed to release reply lock")
		}
	}()

	// Re-read under the lock: a racing dispatcher may have finished between
	// the short-circuit check and lock acquisition.
	answer, err = d.answers.GetAnswer(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("reloading answer for comment %s: %w", commentID, err)
	}
	if answer.AlreadyDispatched() {
		return &Result{Status: StatusSkipped, ReplyID: answer.ReplyID}, nil
	}

	if err := d.reserveSlot(ctx); err != nil {
		return nil, fmt.Errorf("comment %s: %w", commentID, err)
	}

	text := FlattenMarkdown(answer.Text)
	if text == "" {
		return nil, fmt.Errorf("comment %s: answer text flattened to nothing", commentID)
	}

	replyID, err := d.platform.SendReply(ctx, commentID, text)
	if err != nil {
		return nil, fmt.Errorf("sending reply for comment %s: %w", commentID, err)
	}

	if err := d.answers.MarkReplySent(ctx, commentID, replyID); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			// A racing duplicate reserved the id first. The reply exists on
			// the platform either way.
			d.logger.Warn().
				Str("comment_id", commentID).
				Str("reply_id", replyID).
				Msg("Reply id already reserved by a racing dispatch")
			return &Result{Status: StatusSkipped, ReplyID: replyID}, nil
		}
		return nil, fmt.Errorf("recording reply %s for comment %s: %w", replyID, commentID, err)
	}

	d.logger.Info().
		Str("comment_id", commentID).
		Str("reply_id", replyID).
		Int("text_len", len(text)).
		Msg("Reply dispatched")

	return &Result{Status: StatusSent, ReplyID: replyID}, nil
}

// reserveSlot blocks for a limiter token, bounded by maxWait. Exhaustion is a
// retryable failure, never a silent drop.
func (d *Dispatcher) reserveSlot(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.maxWait)
	defer cancel()

	if err := d.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateBudgetExhausted, err)
	}
	return nil
}

// MarkSuppressed records a quality-gate suppression on the answer so dispatch
// is never re-attempted for it.
func (d *Dispatcher) MarkSuppressed(ctx context.Context, answer *models.Answer, reason string) error {
	answer.MarkReplySuppressed(reason)
	if err := d.answers.UpdateAnswer(ctx, answer); err != nil {
		return fmt.Errorf("recording suppression for comment %s: %w", answer.CommentID, err)
	}
	d.logger.Info().
		Str("comment_id", answer.CommentID).
		Str("reason", reason).
		Msg("Reply suppressed")
	return nil
}
