package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoTask is returned when the queue has nothing ready to deliver.
var ErrNoTask = errors.New("no tasks in queue")

// Stage identifies which pipeline stage a queued task drives. Used to route
// the task to its registered stage worker.
type Stage string

const (
	StageClassify     Stage = "comment.classify"
	StageAnswer       Stage = "comment.answer"
	StageDispatch     Stage = "comment.dispatch"
	StageAnalyzeMedia Stage = "media.analyze"
)

// ParseStage validates a stage routing key from the wire.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageClassify, StageAnswer, StageDispatch, StageAnalyzeMedia:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// TaskMessage is one unit of queue work: one comment (or media post)
// progressing through one stage. Attempt counts transient retries of this
// stage only; deferred re-drives increment Defer instead, so waiting on a
// dependency never burns retry budget.
type TaskMessage struct {
	ID        string `json:"id"` // task_{uuid}
	CommentID string `json:"comment_id"`
	MediaID   string `json:"media_id,omitempty"` // set for media.analyze tasks
	Stage     Stage  `json:"stage"`
	Attempt   int    `json:"attempt"`
	Defer     int    `json:"defer,omitempty"`
}

// NewTask creates a stage task for a comment.
func NewTask(commentID string, stage Stage) *TaskMessage {
	return &TaskMessage{
		ID:        "task_" + uuid.New().String(),
		CommentID: commentID,
		Stage:     stage,
	}
}

// NewMediaTask creates a media analysis task.
func NewMediaTask(mediaID string) *TaskMessage {
	return &TaskMessage{
		ID:      "task_" + uuid.New().String(),
		MediaID: mediaID,
		Stage:   StageAnalyzeMedia,
	}
}

// Validate checks routing fields before enqueue/execution.
func (t *TaskMessage) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if _, err := ParseStage(string(t.Stage)); err != nil {
		return err
	}
	if t.Stage == StageAnalyzeMedia {
		if t.MediaID == "" {
			return fmt.Errorf("task %s: media id is required", t.ID)
		}
		return nil
	}
	if t.CommentID == "" {
		return fmt.Errorf("task %s: comment id is required", t.ID)
	}
	return nil
}

// ToJSON serializes the task for the queue body.
func (t *TaskMessage) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// TaskFromJSON deserializes a queue body back into a task.
func TaskFromJSON(data []byte) (*TaskMessage, error) {
	var t TaskMessage
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}
