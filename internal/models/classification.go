package models

import (
	"fmt"
	"time"
)

// ProcessingStatus tracks a stage record's lifecycle.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusRetry      ProcessingStatus = "retry"
)

// IsTerminal reports whether the record will not be processed again.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Label is the closed intent taxonomy assigned by classification.
type Label string

const (
	LabelPositiveFeedback Label = "positive feedback"
	LabelCriticalFeedback Label = "critical feedback"
	LabelUrgentIssue      Label = "urgent issue / complaint"
	LabelQuestion         Label = "question / inquiry"
	LabelPartnership      Label = "partnership proposal"
	LabelToxic            Label = "toxic / abusive"
	LabelSpam             Label = "spam / irrelevant"
)

// AllLabels lists the taxonomy in prompt order.
var AllLabels = []Label{
	LabelPositiveFeedback,
	LabelCriticalFeedback,
	LabelUrgentIssue,
	LabelQuestion,
	LabelPartnership,
	LabelToxic,
	LabelSpam,
}

// ParseLabel validates a model-produced label against the closed taxonomy.
func ParseLabel(s string) (Label, error) {
	for _, l := range AllLabels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("label %q is not in the taxonomy", s)
}

// IsActionable reports whether the label requires an answer.
func (l Label) IsActionable() bool {
	return l == LabelQuestion
}

// RequiresHide reports whether the comment should be hidden on the platform.
func (l Label) RequiresHide() bool {
	return l == LabelUrgentIssue || l == LabelToxic
}

// RequiresNotification reports whether operators get an alert.
func (l Label) RequiresNotification() bool {
	return l == LabelUrgentIssue || l == LabelCriticalFeedback || l == LabelPartnership
}

// UsageMetrics captures per-call token consumption for observability.
type UsageMetrics struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates usage across multiple provider calls in one stage run.
func (u *UsageMetrics) Add(other UsageMetrics) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Classification is the intent record for a comment. At most one exists per
// comment (keyed by comment id). Mutated only by the classification stage
// under the orchestrator's lock.
type Classification struct {
	CommentID string `json:"comment_id" badgerhold:"key"`

	ProcessingStatus ProcessingStatus `json:"processing_status" badgerhold:"index"`

	// Outcome
	Label      Label        `json:"label,omitempty"`
	Confidence float64      `json:"confidence"` // 0-100
	Reasoning  string       `json:"reasoning,omitempty"`
	Usage      UsageMetrics `json:"usage"`

	// Retry bookkeeping
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" badgerhold:"index"`
}

// DefaultClassificationMaxRetries bounds transient retries for the
// classification stage.
const DefaultClassificationMaxRetries = 3

// NewClassification creates the pending record that accompanies a new comment.
func NewClassification(commentID string) *Classification {
	now := time.Now().UTC()
	return &Classification{
		CommentID:        commentID,
		ProcessingStatus: StatusPending,
		MaxRetries:       DefaultClassificationMaxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkProcessing records the start of an attempt. One durable write.
func (c *Classification) MarkProcessing(retryCount int) {
	now := time.Now().UTC()
	c.ProcessingStatus = StatusProcessing
	c.RetryCount = retryCount
	c.StartedAt = &now
	c.UpdatedAt = now
}

// MarkCompleted records the terminal outcome. One durable write.
func (c *Classification) MarkCompleted(label Label, confidence float64, reasoning string, usage UsageMetrics) {
	now := time.Now().UTC()
	c.ProcessingStatus = StatusCompleted
	c.Label = label
	c.Confidence = confidence
	c.Reasoning = reasoning
	c.Usage = usage
	c.CompletedAt = &now
	c.UpdatedAt = now
	c.LastError = ""
}

// MarkRetry records a transient failure that will be re-driven.
func (c *Classification) MarkRetry(reason string) {
	c.ProcessingStatus = StatusRetry
	c.LastError = reason
	c.UpdatedAt = time.Now().UTC()
}

// MarkFailed records the terminal failure after retries are exhausted.
func (c *Classification) MarkFailed(reason string) {
	now := time.Now().UTC()
	c.ProcessingStatus = StatusFailed
	c.LastError = reason
	c.CompletedAt = &now
	c.UpdatedAt = now
}

// RetriesExhausted reports whether another transient retry is allowed.
func (c *Classification) RetriesExhausted() bool {
	return c.RetryCount >= c.MaxRetries
}

// IsStale reports whether a processing record was abandoned by a crashed
// worker: still "processing" with no update for longer than the timeout.
func (c *Classification) IsStale(now time.Time, stalenessTimeout time.Duration) bool {
	return c.ProcessingStatus == StatusProcessing && now.Sub(c.UpdatedAt) > stalenessTimeout
}
