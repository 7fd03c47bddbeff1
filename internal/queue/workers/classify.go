package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/classifier"
)

// IntentClassifier assigns labels. Satisfied by *classifier.Service.
type IntentClassifier interface {
	Classify(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*classifier.Result, error)
	ClassifyNow(ctx context.Context, comment *models.Comment, media *models.MediaPost) (*classifier.Result, error)
}

// ClassifyWorker runs the classification stage: it assigns the intent label,
// persists the classification record, and routes the comment onward —
// questions continue to answer generation, moderation labels trigger hide
// and operator alerts, everything else ends the pipeline here.
type ClassifyWorker struct {
	classifier      IntentClassifier
	comments        interfaces.CommentStorage
	classifications interfaces.ClassificationStorage
	media           interfaces.MediaStorage
	platform        interfaces.PlatformClient
	notifier        interfaces.Notifier
	maxRetries      int
	maxDefer        int
	logger          arbor.ILogger
}

// NewClassifyWorker creates the classification stage worker. Platform and
// notifier are optional: without them hide/alert routing is skipped.
func NewClassifyWorker(
	intents IntentClassifier,
	comments interfaces.CommentStorage,
	classifications interfaces.ClassificationStorage,
	media interfaces.MediaStorage,
	platform interfaces.PlatformClient,
	notifier interfaces.Notifier,
	config *common.Config,
	logger arbor.ILogger,
) (*ClassifyWorker, error) {
	if intents == nil || comments == nil || classifications == nil {
		return nil, fmt.Errorf("classifier, comment storage and classification storage are required")
	}

	maxRetries := config.Classification.MaxRetries
	if maxRetries < 1 {
		maxRetries = models.DefaultClassificationMaxRetries
	}
	maxDefer := config.Classification.MaxDefer
	if maxDefer < 1 {
		maxDefer = 10
	}

	return &ClassifyWorker{
		classifier:      intents,
		comments:        comments,
		classifications: classifications,
		media:           media,
		platform:        platform,
		notifier:        notifier,
		maxRetries:      maxRetries,
		maxDefer:        maxDefer,
		logger:          logger,
	}, nil
}

func (w *ClassifyWorker) GetStage() models.Stage { return models.StageClassify }

func (w *ClassifyWorker) MaxAttempts() int { return w.maxRetries }

func (w *ClassifyWorker) Validate(task *models.TaskMessage) error {
	if task.Stage != models.StageClassify {
		return fmt.Errorf("task %s: stage %s routed to classify worker", task.ID, task.Stage)
	}
	if task.CommentID == "" {
		return fmt.Errorf("task %s: comment id is required", task.ID)
	}
	return nil
}

func (w *ClassifyWorker) Execute(ctx context.Context, task *models.TaskMessage) (*interfaces.StageOutcome, error) {
	comment, err := w.comments.GetComment(ctx, task.CommentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.Permanent("comment record missing", err)
		}
		return nil, models.Transient("comment fetch failed", err)
	}

	// Backfill the conversation key on first classification so threaded
	// follow-ups can assemble history later.
	if comment.ConversationID == "" {
		conversationID := models.ConversationIDFor(comment)
		if err := w.comments.SetConversationID(ctx, comment.ID, conversationID); err != nil {
			return nil, models.Transient("conversation id backfill failed", err)
		}
		comment.ConversationID = conversationID
	}

	record, err := w.loadOrCreateRecord(ctx, comment.ID)
	if err != nil {
		return nil, models.Transient("classification record unavailable", err)
	}

	// Crash-resume: a completed record means a previous attempt finished but
	// its ack was lost. Re-emit the routing decision without a provider call.
	if record.ProcessingStatus == models.StatusCompleted {
		return w.route(ctx, comment, record, "already classified"), nil
	}
	if record.ProcessingStatus == models.StatusFailed {
		return nil, models.Permanent("classification already failed terminally", nil)
	}

	post := w.loadMedia(ctx, comment.MediaID)

	// The attempt becomes durable before the provider call so a crash
	// mid-call leaves a processing record the stale sweep can reclaim.
	// Deferred waits refresh the same record, which keeps it off the sweep.
	record.MarkProcessing(task.Attempt)
	if err := w.classifications.UpdateClassification(ctx, record); err != nil {
		return nil, models.Transient("classification record update failed", err)
	}

	// The defer budget bounds how long a comment waits on media enrichment.
	// Once spent, classify with whatever context exists.
	var result *classifier.Result
	if task.Defer >= w.maxDefer {
		w.logger.Warn().
			Str("comment_id", comment.ID).
			Int("defers", task.Defer).
			Msg("Media context wait budget spent, classifying without it")
		result, err = w.classifier.ClassifyNow(ctx, comment, post)
	} else {
		result, err = w.classifier.Classify(ctx, comment, post)
	}
	if err != nil {
		record.MarkRetry(err.Error())
		if updateErr := w.classifications.UpdateClassification(ctx, record); updateErr != nil {
			w.logger.Warn().Err(updateErr).Str("comment_id", comment.ID).Msg("Failed to persist retry status")
		}
		return nil, models.Transient("classification call failed", err)
	}
	if result.Deferred {
		return nil, models.Deferred(result.DeferReason)
	}

	record.MarkCompleted(result.Label, result.Confidence, result.Reasoning, result.Usage)
	if err := w.classifications.UpdateClassification(ctx, record); err != nil {
		return nil, models.Transient("classification outcome write failed", err)
	}

	return w.route(ctx, comment, record, string(result.Label)), nil
}

// loadOrCreateRecord returns the comment's classification record, creating
// the pending record on first classification. A duplicate-create race
// resolves to the winner's record.
func (w *ClassifyWorker) loadOrCreateRecord(ctx context.Context, commentID string) (*models.Classification, error) {
	record, err := w.classifications.GetClassification(ctx, commentID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	record = models.NewClassification(commentID)
	record.MaxRetries = w.maxRetries
	if err := w.classifications.CreateClassification(ctx, record); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return w.classifications.GetClassification(ctx, commentID)
		}
		return nil, err
	}
	return record, nil
}

// loadMedia fetches the comment's media post. A missing record is not an
// error: classification proceeds without post context.
func (w *ClassifyWorker) loadMedia(ctx context.Context, mediaID string) *models.MediaPost {
	if w.media == nil || mediaID == "" {
		return nil
	}
	post, err := w.media.GetMedia(ctx, mediaID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			w.logger.Warn().Err(err).Str("media_id", mediaID).Msg("Media fetch failed, classifying without context")
		}
		return nil
	}
	return post
}

// route applies the label's side effects and decides the next stage.
// Moderation actions are best-effort: a failed hide or alert is logged and
// the pipeline continues.
func (w *ClassifyWorker) route(ctx context.Context, comment *models.Comment, record *models.Classification, detail string) *interfaces.StageOutcome {
	label := record.Label

	if label.RequiresHide() && w.platform != nil {
		if err := w.platform.HideComment(ctx, comment.ID, true); err != nil {
			w.logger.Warn().Err(err).Str("comment_id", comment.ID).Msg("Comment hide failed")
		} else {
			w.logger.Info().
				Str("comment_id", comment.ID).
				Str("label", string(label)).
				Msg("Comment hidden")
		}
	}

	if label.RequiresNotification() && w.notifier != nil {
		payload := interfaces.NotificationPayload{
			CommentID:  comment.ID,
			MediaID:    comment.MediaID,
			Username:   comment.Username,
			Text:       comment.Text,
			Label:      string(label),
			Confidence: record.Confidence,
			Reasoning:  record.Reasoning,
		}
		if post := w.loadMedia(ctx, comment.MediaID); post != nil {
			payload.Permalink = post.Permalink
		}
		if err := w.notifier.NotifyClassification(ctx, payload); err != nil {
			w.logger.Warn().Err(err).Str("comment_id", comment.ID).Msg("Operator alert failed")
		}
	}

	outcome := &interfaces.StageOutcome{
		State:  models.StateClassified,
		Detail: detail,
	}
	if label.IsActionable() {
		outcome.NextStage = models.StageAnswer
	}
	return outcome
}
