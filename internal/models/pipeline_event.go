package models

import "time"

// PipelineEvent is published on every state machine transition and streamed
// to connected ops clients over the websocket.
type PipelineEvent struct {
	CommentID string        `json:"comment_id"`
	From      PipelineState `json:"from"`
	To        PipelineState `json:"to"`
	Stage     Stage         `json:"stage,omitempty"`
	Label     Label         `json:"label,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	At        time.Time     `json:"at"`
}

// NewPipelineEvent timestamps a transition event.
func NewPipelineEvent(commentID string, from, to PipelineState) PipelineEvent {
	return PipelineEvent{
		CommentID: commentID,
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
	}
}
