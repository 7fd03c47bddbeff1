package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/replies"
)

// ReplyDispatcher sends answers to the platform. Satisfied by
// *replies.Dispatcher.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, commentID string) (*replies.Result, error)
	MarkSuppressed(ctx context.Context, answer *models.Answer, reason string) error
}

// DispatchWorker runs the reply stage: it applies the quality gate, then
// drives the idempotent dispatcher and translates its sentinels into the
// failure taxonomy.
type DispatchWorker struct {
	dispatcher  ReplyDispatcher
	answers     interfaces.AnswerStorage
	minQuality  int
	maxAttempts int
	logger      arbor.ILogger
}

func NewDispatchWorker(
	dispatcher ReplyDispatcher,
	answers interfaces.AnswerStorage,
	config *common.Config,
	logger arbor.ILogger,
) (*DispatchWorker, error) {
	if dispatcher == nil || answers == nil {
		return nil, fmt.Errorf("dispatcher and answer storage are required")
	}

	return &DispatchWorker{
		dispatcher:  dispatcher,
		answers:     answers,
		minQuality:  config.Answer.MinQualityScore,
		maxAttempts: models.DefaultReplyMaxAttempts,
		logger:      logger,
	}, nil
}

func (w *DispatchWorker) GetStage() models.Stage { return models.StageDispatch }

func (w *DispatchWorker) MaxAttempts() int { return w.maxAttempts }

func (w *DispatchWorker) Validate(task *models.TaskMessage) error {
	if task.Stage != models.StageDispatch {
		return fmt.Errorf("task %s: stage %s routed to dispatch worker", task.ID, task.Stage)
	}
	if task.CommentID == "" {
		return fmt.Errorf("task %s: comment id is required", task.ID)
	}
	return nil
}

func (w *DispatchWorker) Execute(ctx context.Context, task *models.TaskMessage) (*interfaces.StageOutcome, error) {
	answer, err := w.answers.GetAnswer(ctx, task.CommentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.Permanent("dispatch without an answer record", err)
		}
		return nil, models.Transient("answer fetch failed", err)
	}
	if answer.ProcessingStatus != models.StatusCompleted {
		return nil, models.Permanent(
			fmt.Sprintf("answer not terminal (%s)", answer.ProcessingStatus), nil)
	}
	if answer.Text == "" && !answer.AlreadyDispatched() {
		return nil, models.Permanent("completed answer has no text", nil)
	}

	// Quality gate. Suppressed answers keep their text for review but are
	// never sent; the pipeline still closes successfully.
	if w.minQuality > 0 && answer.QualityScore < w.minQuality && !answer.AlreadyDispatched() {
		reason := fmt.Sprintf("quality score %d below threshold %d", answer.QualityScore, w.minQuality)
		if err := w.dispatcher.MarkSuppressed(ctx, answer, reason); err != nil {
			return nil, models.Transient("suppression write failed", err)
		}
		w.logger.Info().
			Str("comment_id", task.CommentID).
			Int("quality_score", answer.QualityScore).
			Msg("Reply suppressed by quality gate")
		return &interfaces.StageOutcome{
			State:  models.StateDispatched,
			Detail: "reply suppressed: " + reason,
		}, nil
	}

	result, err := w.dispatcher.Dispatch(ctx, task.CommentID)
	if err != nil {
		return nil, w.translate(task.CommentID, err)
	}

	detail := "reply sent"
	if result.Status == replies.StatusSkipped {
		detail = "already dispatched"
	} else if result.ReplyID != "" {
		detail = "reply sent: " + result.ReplyID
	}

	return &interfaces.StageOutcome{
		State:  models.StateDispatched,
		Detail: detail,
	}, nil
}

// translate maps dispatcher errors onto the failure taxonomy. Everything
// around the send is retryable; only a missing or unusable answer is not.
func (w *DispatchWorker) translate(commentID string, err error) error {
	switch {
	case errors.Is(err, replies.ErrReplyInFlight):
		return models.Transient("reply already in flight elsewhere", err)

	case errors.Is(err, replies.ErrRateBudgetExhausted):
		return models.Transient("local reply rate budget exhausted", err)

	case errors.Is(err, interfaces.ErrPlatformRateLimited):
		return models.Transient("platform rate limited", err)

	case errors.Is(err, interfaces.ErrNotFound):
		return models.Permanent("answer record disappeared", err)

	case errors.Is(err, context.DeadlineExceeded):
		return models.Transient("dispatch timed out", err)

	default:
		w.logger.Warn().Err(err).Str("comment_id", commentID).Msg("Dispatch failed")
		return models.Transient("dispatch failed", err)
	}
}
