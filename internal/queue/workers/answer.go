package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/answer"
)

// AnswerGenerator produces replies. Satisfied by *answer.Service.
type AnswerGenerator interface {
	Generate(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*answer.Result, error)
}

// AnswerWorker runs the generation stage for actionable comments: it gates on
// the completed classification, runs the tool-augmented agent, and persists
// the answer record before handing the comment to dispatch.
type AnswerWorker struct {
	generator       AnswerGenerator
	comments        interfaces.CommentStorage
	classifications interfaces.ClassificationStorage
	answers         interfaces.AnswerStorage
	media           interfaces.MediaStorage
	maxRetries      int
	logger          arbor.ILogger
}

func NewAnswerWorker(
	generator AnswerGenerator,
	comments interfaces.CommentStorage,
	classifications interfaces.ClassificationStorage,
	answers interfaces.AnswerStorage,
	media interfaces.MediaStorage,
	config *common.Config,
	logger arbor.ILogger,
) (*AnswerWorker, error) {
	if generator == nil || comments == nil || classifications == nil || answers == nil {
		return nil, fmt.Errorf("generator, comment, classification and answer storage are required")
	}

	maxRetries := config.Answer.MaxRetries
	if maxRetries < 1 {
		maxRetries = models.DefaultAnswerMaxRetries
	}

	return &AnswerWorker{
		generator:       generator,
		comments:        comments,
		classifications: classifications,
		answers:         answers,
		media:           media,
		maxRetries:      maxRetries,
		logger:          logger,
	}, nil
}

func (w *AnswerWorker) GetStage() models.Stage { return models.StageAnswer }

func (w *AnswerWorker) MaxAttempts() int { return w.maxRetries }

func (w *AnswerWorker) Validate(task *models.TaskMessage) error {
	if task.Stage != models.StageAnswer {
		return fmt.Errorf("task %s: stage %s routed to answer worker", task.ID, task.Stage)
	}
	if task.CommentID == "" {
		return fmt.Errorf("task %s: comment id is required", task.ID)
	}
	return nil
}

func (w *AnswerWorker) Execute(ctx context.Context, task *models.TaskMessage) (*interfaces.StageOutcome, error) {
	comment, err := w.comments.GetComment(ctx, task.CommentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.Permanent("comment record missing", err)
		}
		return nil, models.Transient("comment fetch failed", err)
	}

	// Generation only runs for comments classification routed here. A task
	// without a completed actionable classification is inconsistent, not
	// retryable.
	classification, err := w.classifications.GetClassification(ctx, comment.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.Permanent("answer stage reached without a classification", err)
		}
		return nil, models.Transient("classification fetch failed", err)
	}
	if classification.ProcessingStatus != models.StatusCompleted {
		return nil, models.Permanent(
			fmt.Sprintf("classification not terminal (%s)", classification.ProcessingStatus), nil)
	}
	if !classification.Label.IsActionable() {
		return nil, models.Permanent(
			fmt.Sprintf("label %q is not actionable", classification.Label), nil)
	}

	record, err := w.loadOrCreateRecord(ctx, comment.ID)
	if err != nil {
		return nil, models.Transient("answer record unavailable", err)
	}

	// Crash-resume: generation finished but the ack was lost. Hand the
	// existing answer to dispatch without another agent run.
	if record.ProcessingStatus == models.StatusCompleted {
		return &interfaces.StageOutcome{
			State:     models.StateAnswered,
			NextStage: models.StageDispatch,
			Detail:    "already generated",
		}, nil
	}
	if record.ProcessingStatus == models.StatusFailed {
		return nil, models.Permanent("answer already failed terminally", nil)
	}

	record.MarkProcessing(task.Attempt)
	if err := w.answers.UpdateAnswer(ctx, record); err != nil {
		return nil, models.Transient("answer record update failed", err)
	}

	post := w.loadMedia(ctx, comment.MediaID)

	result, err := w.generator.Generate(ctx, comment, post)
	if err != nil {
		record.MarkRetry(err.Error())
		if updateErr := w.answers.UpdateAnswer(ctx, record); updateErr != nil {
			w.logger.Warn().Err(updateErr).Str("comment_id", comment.ID).Msg("Failed to persist retry status")
		}
		return nil, models.Transient("answer generation failed", err)
	}

	record.MarkCompleted(
		result.Text,
		result.Confidence,
		result.QualityScore,
		result.IsHelpful,
		result.ContainsContactInfo,
		result.Tone,
		result.Reasoning,
		result.Usage,
	)
	if err := w.answers.UpdateAnswer(ctx, record); err != nil {
		return nil, models.Transient("answer outcome write failed", err)
	}

	return &interfaces.StageOutcome{
		State:     models.StateAnswered,
		NextStage: models.StageDispatch,
		Detail:    fmt.Sprintf("quality %d", result.QualityScore),
	}, nil
}

func (w *AnswerWorker) loadOrCreateRecord(ctx context.Context, commentID string) (*models.Answer, error) {
	record, err := w.answers.GetAnswer(ctx, commentID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	record = models.NewAnswer(commentID)
	record.MaxRetries = w.maxRetries
	if err := w.answers.CreateAnswer(ctx, record); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return w.answers.GetAnswer(ctx, commentID)
		}
		return nil, err
	}
	return record, nil
}

func (w *AnswerWorker) loadMedia(ctx context.Context, mediaID string) *models.MediaPost {
	if w.media == nil || mediaID == "" {
		return nil
	}
	post, err := w.media.GetMedia(ctx, mediaID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			w.logger.Warn().Err(err).Str("media_id", mediaID).Msg("Media fetch failed, generating without post context")
		}
		return nil
	}
	return post
}
