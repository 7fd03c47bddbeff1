package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/services/media"
)

// Webhook payload shapes as the platform delivers them. Unknown fields are
// ignored; the full raw value is kept on the comment record.

// CommentAuthor identifies the commenting user.
type CommentAuthor struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// CommentMedia identifies the post the comment was left on.
type CommentMedia struct {
	ID               string `json:"id" validate:"required"`
	MediaProductType string `json:"media_product_type,omitempty"`
}

// CommentValue is one comment inside a webhook change.
type CommentValue struct {
	ID       string        `json:"id" validate:"required"`
	Text     string        `json:"text" validate:"required"`
	From     CommentAuthor `json:"from" validate:"required"`
	Media    CommentMedia  `json:"media" validate:"required"`
	ParentID string        `json:"parent_id,omitempty"`
}

// CommentChange wraps a comment value with the changed field name.
type CommentChange struct {
	Field string       `json:"field" validate:"required,oneof=comments live_comments"`
	Value CommentValue `json:"value" validate:"required"`
}

// WebhookEntry groups changes for one account with the event timestamp.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time" validate:"gt=0"`
	Changes []CommentChange `json:"changes" validate:"required,min=1,dive"`
}

// WebhookPayload is the complete notification body.
type WebhookPayload struct {
	Object string         `json:"object" validate:"required,eq=instagram"`
	Entry  []WebhookEntry `json:"entry" validate:"required,min=1,dive"`
}

// WebhookHandler ingests platform comment notifications. It owns the
// verification challenge, the skip rules that keep the bot out of
// conversation loops with itself, duplicate-delivery dedup, and enqueueing
// the first pipeline stage. Everything after the enqueue belongs to the
// orchestrator.
type WebhookHandler struct {
	comments        interfaces.CommentStorage
	classifications interfaces.ClassificationStorage
	answers         interfaces.AnswerStorage
	mediaService    *media.Service
	queueMgr        interfaces.QueueManager
	events          interfaces.EventService
	validate        *validator.Validate
	botUsername     string
	verifyToken     string
	logger          arbor.ILogger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(
	comments interfaces.CommentStorage,
	classifications interfaces.ClassificationStorage,
	answers interfaces.AnswerStorage,
	mediaService *media.Service,
	queueMgr interfaces.QueueManager,
	events interfaces.EventService,
	config *common.Config,
	logger arbor.ILogger,
) *WebhookHandler {
	return &WebhookHandler{
		comments:        comments,
		classifications: classifications,
		answers:         answers,
		mediaService:    mediaService,
		queueMgr:        queueMgr,
		events:          events,
		validate:        validator.New(),
		botUsername:     config.Instagram.BotUsername,
		verifyToken:     config.Webhook.VerifyToken,
		logger:          logger,
	}
}

// VerifyHandler handles GET /webhook: the platform's subscription challenge.
// Missing parameters are a 422, a bad token a 403; success echoes the
// challenge as plain text.
func (h *WebhookHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	q := r.URL.Query()
	mode := q.Get("hub.mode")
	challenge := q.Get("hub.challenge")
	token := q.Get("hub.verify_token")

	if mode == "" || challenge == "" || token == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Missing verification parameters")
		return
	}
	if mode != "subscribe" {
		WriteError(w, http.StatusUnprocessableEntity, "Only 'subscribe' mode is supported")
		return
	}
	if token != h.verifyToken {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Webhook verification with invalid token")
		WriteError(w, http.StatusForbidden, "Invalid verify token")
		return
	}

	h.logger.Info().Msg("Webhook subscription verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// EventsHandler handles POST /webhook: comment change notifications. The
// signature was already verified by the server middleware. Per-comment
// failures are counted and skipped, never failing the whole batch — the
// platform retries unacknowledged deliveries, and the pipeline is safe
// against the duplicates that causes.
func (h *WebhookHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn().Err(err).Msg("Webhook payload is not valid JSON")
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		h.logger.Warn().Err(err).Msg("Webhook payload failed validation")
		WriteError(w, http.StatusUnprocessableEntity, "Invalid webhook payload")
		return
	}

	processed := 0
	skipped := 0

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if h.processComment(r, &change.Value, entry.Time) {
				processed++
			} else {
				skipped++
			}
		}
	}

	h.logger.Info().
		Int("processed", processed).
		Int("skipped", skipped).
		Msg("Webhook batch complete")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"processed": processed,
		"skipped":   skipped,
	})
}

// processComment ingests one comment. Returns true when a new comment entered
// the pipeline.
func (h *WebhookHandler) processComment(r *http.Request, value *CommentValue, entryTime int64) bool {
	ctx := r.Context()
	logger := h.logger.WithCorrelationId(value.ID)

	if skip, reason := h.shouldSkip(ctx, value); skip {
		logger.Info().Str("reason", reason).Msg("Skipping comment")
		return false
	}

	// Duplicate delivery: the comment exists. Re-enqueue classification only
	// if it never completed; a finished pipeline is left alone.
	if existing, err := h.comments.GetComment(ctx, value.ID); err == nil {
		h.requeueIfIncomplete(ctx, existing, logger)
		return false
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		logger.Error().Err(err).Msg("Comment lookup failed")
		return false
	}

	// The media record must exist before classification can consult its
	// context. A fresh post with an image gets its analysis task here.
	post, created, err := h.mediaService.Ensure(ctx, value.Media.ID)
	if err != nil {
		logger.Error().Err(err).Str("media_id", value.Media.ID).Msg("Media record creation failed")
		return false
	}
	if created && post.ContextPending() {
		if err := h.queueMgr.Enqueue(ctx, models.NewMediaTask(post.ID)); err != nil {
			logger.Warn().Err(err).Str("media_id", post.ID).Msg("Failed to enqueue media analysis")
		}
	}

	var parentID *string
	if value.ParentID != "" {
		parentID = &value.ParentID
	}
	comment := models.NewComment(
		value.ID, value.Media.ID, value.From.ID, value.From.Username,
		value.Text, parentID, time.Unix(entryTime, 0).UTC(),
	)
	if raw, err := json.Marshal(value); err == nil {
		comment.RawPayload = raw
	}

	if err := h.comments.CreateComment(ctx, comment); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			// Racing delivery created it first; that delivery owns the
			// pipeline.
			logger.Debug().Msg("Comment inserted by a racing delivery")
			return false
		}
		logger.Error().Err(err).Msg("Comment creation failed")
		return false
	}

	if err := h.classifications.CreateClassification(ctx, models.NewClassification(comment.ID)); err != nil && !errors.Is(err, interfaces.ErrDuplicate) {
		logger.Error().Err(err).Msg("Classification record creation failed")
		return false
	}

	if err := h.queueMgr.Enqueue(ctx, models.NewTask(comment.ID, models.StageClassify)); err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue classification; stale sweep will rescue")
		return false
	}

	h.publishReceived(ctx, comment)
	logger.Info().Str("media_id", comment.MediaID).Msg("Comment saved and queued for classification")
	return true
}

// shouldSkip applies the bot-loop guards: never process the bot's own
// comments, replies to the bot's replies, or a comment id that is itself a
// recorded reply id.
func (h *WebhookHandler) shouldSkip(ctx context.Context, value *CommentValue) (bool, string) {
	if h.botUsername != "" && strings.EqualFold(value.From.Username, h.botUsername) {
		return true, "comment from the bot account"
	}

	if value.ParentID != "" {
		if _, err := h.answers.GetByReplyID(ctx, value.ParentID); err == nil {
			return true, "reply to a bot reply"
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			h.logger.Warn().Err(err).Str("parent_id", value.ParentID).Msg("Reply-id lookup failed; not skipping")
		}
	}

	if _, err := h.answers.GetByReplyID(ctx, value.ID); err == nil {
		return true, "comment id is a recorded bot reply"
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().Err(err).Str("comment_id", value.ID).Msg("Reply-id lookup failed; not skipping")
	}

	return false, ""
}

// requeueIfIncomplete re-enqueues classification for an already-known comment
// whose classification never reached a terminal state.
func (h *WebhookHandler) requeueIfIncomplete(ctx context.Context, existing *models.Comment, logger arbor.ILogger) {
	classification, err := h.classifications.GetClassification(ctx, existing.ID)
	if err == nil && classification.ProcessingStatus == models.StatusCompleted {
		logger.Debug().Msg("Duplicate delivery for a classified comment; nothing to do")
		return
	}
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		logger.Warn().Err(err).Msg("Classification lookup failed on duplicate delivery")
		return
	}

	if errors.Is(err, interfaces.ErrNotFound) {
		if createErr := h.classifications.CreateClassification(ctx, models.NewClassification(existing.ID)); createErr != nil && !errors.Is(createErr, interfaces.ErrDuplicate) {
			logger.Warn().Err(createErr).Msg("Failed to recreate missing classification record")
			return
		}
	}

	if err := h.queueMgr.Enqueue(ctx, models.NewTask(existing.ID, models.StageClassify)); err != nil {
		logger.Warn().Err(err).Msg("Failed to re-enqueue classification")
		return
	}
	logger.Info().Msg("Re-enqueued classification for incomplete comment")
}

func (h *WebhookHandler) publishReceived(ctx context.Context, comment *models.Comment) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventCommentReceived,
		Payload: map[string]interface{}{
			"comment_id": comment.ID,
			"media_id":   comment.MediaID,
			"username":   comment.Username,
		},
	}); err != nil {
		h.logger.Warn().Err(err).Str("comment_id", comment.ID).Msg("Failed to publish comment_received event")
	}
}
