package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

// CommentHandler exposes the per-comment pipeline view: the comment record
// with its classification and answer, for operators tracing one comment
// through the state machine.
type CommentHandler struct {
	comments        interfaces.CommentStorage
	classifications interfaces.ClassificationStorage
	answers         interfaces.AnswerStorage
	logger          arbor.ILogger
}

// NewCommentHandler creates a new CommentHandler.
func NewCommentHandler(
	comments interfaces.CommentStorage,
	classifications interfaces.ClassificationStorage,
	answers interfaces.AnswerStorage,
	logger arbor.ILogger,
) *CommentHandler {
	return &CommentHandler{
		comments:        comments,
		classifications: classifications,
		answers:         answers,
		logger:          logger,
	}
}

// CommentView aggregates one comment's pipeline records.
type CommentView struct {
	Comment        *models.Comment        `json:"comment"`
	Classification *models.Classification `json:"classification,omitempty"`
	Answer         *models.Answer         `json:"answer,omitempty"`
}

// GetCommentHandler handles GET /api/comments/{id}.
func (h *CommentHandler) GetCommentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/comments/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "comment id is required")
		return
	}

	comment, err := h.comments.GetComment(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "comment not found")
			return
		}
		h.logger.Error().Err(err).Str("comment_id", id).Msg("Comment lookup failed")
		WriteError(w, http.StatusInternalServerError, "comment lookup failed")
		return
	}

	view := CommentView{Comment: comment}

	if classification, err := h.classifications.GetClassification(r.Context(), id); err == nil {
		view.Classification = classification
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().Err(err).Str("comment_id", id).Msg("Classification lookup failed")
	}

	if answer, err := h.answers.GetAnswer(r.Context(), id); err == nil {
		view.Answer = answer
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().Err(err).Str("comment_id", id).Msg("Answer lookup failed")
	}

	WriteJSON(w, http.StatusOK, view)
}

// ListByConversationHandler handles GET /api/conversations/{id}: all comments
// sharing one conversation, oldest first.
func (h *CommentHandler) ListByConversationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	comments, err := h.comments.ListByConversation(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", id).Msg("Conversation lookup failed")
		WriteError(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"comments":        comments,
	})
}
