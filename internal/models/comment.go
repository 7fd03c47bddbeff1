package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Comment is a platform comment as delivered by the webhook. The record is
// immutable after creation except for ConversationID (backfilled by the
// classification stage) and PipelineState (owned by the orchestrator).
type Comment struct {
	// Identity (platform-assigned, stable)
	ID       string `json:"id" badgerhold:"key"`
	MediaID  string `json:"media_id" badgerhold:"index"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`

	// Content
	Text     string  `json:"text"`
	ParentID *string `json:"parent_id,omitempty"` // set for threaded replies

	// ConversationID groups a root comment with its threaded replies.
	// Derived during classification: roots get a fresh id, replies inherit
	// their parent's.
	ConversationID string `json:"conversation_id,omitempty" badgerhold:"index"`

	// PipelineState is the orchestrator's persisted position in the
	// per-comment state machine. Used for crash-resume and observability.
	PipelineState PipelineState `json:"pipeline_state" badgerhold:"index"`

	// RawPayload is the original webhook value, kept opaque.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewComment creates a comment record in the initial pipeline state.
func NewComment(id, mediaID, userID, username, text string, parentID *string, createdAt time.Time) *Comment {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	return &Comment{
		ID:            id,
		MediaID:       mediaID,
		UserID:        userID,
		Username:      username,
		Text:          text,
		ParentID:      parentID,
		PipelineState: StateReceived,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
}

// Validate checks required fields before persistence.
func (c *Comment) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("comment id is required")
	}
	if strings.TrimSpace(c.MediaID) == "" {
		return fmt.Errorf("comment %s: media id is required", c.ID)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("comment %s: text is required", c.ID)
	}
	return nil
}

// IsReply reports whether the comment is threaded under another comment.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil && *c.ParentID != ""
}

// IsFromUser matches the author username case-insensitively. Used by the
// webhook skip rules to drop the bot's own replies.
func (c *Comment) IsFromUser(username string) bool {
	return username != "" && strings.EqualFold(c.Username, username)
}

// ConversationIDFor derives the conversation key for a comment. Root comments
// start a fresh conversation keyed by their own id; replies join their
// parent's conversation so threaded follow-ups share context.
func ConversationIDFor(c *Comment) string {
	if c.IsReply() {
		return "first_question_comment_" + *c.ParentID
	}
	return "first_question_comment_" + c.ID
}
