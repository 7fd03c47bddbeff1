package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// MediaAnalyzer describes a post image. Satisfied by *media.Service.
type MediaAnalyzer interface {
	Analyze(ctx context.Context, post *models.MediaPost) (string, error)
}

// MediaWorker runs the asynchronous vision enrichment for a media post. Its
// output unblocks deferred classifications on that post; on the last failed
// attempt the post is marked failed so they stop waiting.
type MediaWorker struct {
	analyzer   MediaAnalyzer
	storage    interfaces.MediaStorage
	maxRetries int
	logger     arbor.ILogger
}

func NewMediaWorker(
	analyzer MediaAnalyzer,
	storage interfaces.MediaStorage,
	config *common.Config,
	logger arbor.ILogger,
) (*MediaWorker, error) {
	if analyzer == nil || storage == nil {
		return nil, fmt.Errorf("analyzer and media storage are required")
	}

	maxRetries := config.Media.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}

	return &MediaWorker{
		analyzer:   analyzer,
		storage:    storage,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

func (w *MediaWorker) GetStage() models.Stage { return models.StageAnalyzeMedia }

func (w *MediaWorker) MaxAttempts() int { return w.maxRetries }

func (w *MediaWorker) Validate(task *models.TaskMessage) error {
	if task.Stage != models.StageAnalyzeMedia {
		return fmt.Errorf("task %s: stage %s routed to media worker", task.ID, task.Stage)
	}
	if task.MediaID == "" {
		return fmt.Errorf("task %s: media id is required", task.ID)
	}
	return nil
}

func (w *MediaWorker) Execute(ctx context.Context, task *models.TaskMessage) (*interfaces.StageOutcome, error) {
	post, err := w.storage.GetMedia(ctx, task.MediaID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.Permanent("media record missing", err)
		}
		return nil, models.Transient("media fetch failed", err)
	}

	// Redelivery after the context already arrived, or a post that never had
	// an image to analyze.
	if !post.ContextPending() {
		return &interfaces.StageOutcome{
			Detail: fmt.Sprintf("analysis already %s", post.AnalysisStatus),
		}, nil
	}

	description, err := w.analyzer.Analyze(ctx, post)
	if err != nil {
		// On the final attempt, mark the post failed so deferred
		// classifications stop waiting for context that will never come.
		if task.Attempt >= w.maxRetries {
			post.MarkAnalysisFailed()
			if updateErr := w.storage.UpdateMedia(ctx, post); updateErr != nil {
				w.logger.Error().Err(updateErr).Str("media_id", post.ID).Msg("Failed to mark analysis failed")
				return nil, models.Transient("analysis failure write failed", updateErr)
			}
			return nil, models.Permanent("vision analysis gave up", err)
		}
		return nil, models.Transient("vision analysis failed", err)
	}

	post.SetContext(description)
	if err := w.storage.UpdateMedia(ctx, post); err != nil {
		return nil, models.Transient("media context write failed", err)
	}

	return &interfaces.StageOutcome{
		Detail: fmt.Sprintf("context stored, %d chars", len(description)),
	}, nil
}
