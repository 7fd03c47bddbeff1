package models

import (
	"fmt"
	"time"
)

// Tone is the closed set of voice registers the answer agent may use.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
	ToneCasual       Tone = "casual"
)

// ParseTone validates a model-produced tone, defaulting to professional.
func ParseTone(s string) Tone {
	switch Tone(s) {
	case ToneProfessional, ToneFriendly, ToneFormal, ToneCasual:
		return Tone(s)
	default:
		return ToneProfessional
	}
}

// ReplyStatus tracks the dispatch outcome on the answer record.
const (
	ReplyStatusSent       = "sent"
	ReplyStatusSuppressed = "suppressed"
	ReplyStatusFailed     = "failed"
)

// Answer is the generated reply for an actionable comment. At most one exists
// per comment (keyed by comment id). ReplyID, once set, is globally unique —
// the core idempotency invariant for dispatch.
type Answer struct {
	CommentID string `json:"comment_id" badgerhold:"key"`

	ProcessingStatus ProcessingStatus `json:"processing_status" badgerhold:"index"`

	// Generation outcome
	Text                string       `json:"answer_text,omitempty"`
	Confidence          float64      `json:"answer_confidence"` // 0-1
	QualityScore        int          `json:"quality_score"`     // 0-100
	IsHelpful           bool         `json:"is_helpful"`
	ContainsContactInfo bool         `json:"contains_contact_info"`
	Tone                Tone         `json:"tone,omitempty"`
	Reasoning           string       `json:"reasoning,omitempty"`
	Usage               UsageMetrics `json:"usage"`

	// Dispatch tracking
	ReplySent     bool       `json:"reply_sent" badgerhold:"index"`
	ReplyID       string     `json:"reply_id,omitempty"`
	ReplyStatus   string     `json:"reply_status,omitempty"`
	ReplySentAt   *time.Time `json:"reply_sent_at,omitempty"`
	ReplyAttempts int        `json:"reply_attempts"`

	// Retry bookkeeping
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" badgerhold:"index"`
}

const (
	// DefaultAnswerMaxRetries bounds transient retries for generation.
	DefaultAnswerMaxRetries = 5
	// DefaultReplyMaxAttempts bounds dispatch attempts for one answer.
	DefaultReplyMaxAttempts = 3
)

// NewAnswer creates the pending answer record for an actionable comment.
func NewAnswer(commentID string) *Answer {
	now := time.Now().UTC()
	return &Answer{
		CommentID:        commentID,
		ProcessingStatus: StatusPending,
		MaxRetries:       DefaultAnswerMaxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkProcessing records the start of a generation attempt.
func (a *Answer) MarkProcessing(retryCount int) {
	now := time.Now().UTC()
	a.ProcessingStatus = StatusProcessing
	a.RetryCount = retryCount
	a.StartedAt = &now
	a.UpdatedAt = now
}

// MarkCompleted stores the generation outcome. One durable write.
func (a *Answer) MarkCompleted(text string, confidence float64, quality int, helpful, contactInfo bool, tone Tone, reasoning string, usage UsageMetrics) {
	now := time.Now().UTC()
	a.ProcessingStatus = StatusCompleted
	a.Text = text
	a.Confidence = confidence
	a.QualityScore = quality
	a.IsHelpful = helpful
	a.ContainsContactInfo = contactInfo
	a.Tone = tone
	a.Reasoning = reasoning
	a.Usage = usage
	a.CompletedAt = &now
	a.UpdatedAt = now
	a.LastError = ""
}

// MarkRetry records a transient generation failure.
func (a *Answer) MarkRetry(reason string) {
	a.ProcessingStatus = StatusRetry
	a.LastError = reason
	a.UpdatedAt = time.Now().UTC()
}

// MarkFailed records the terminal generation failure.
func (a *Answer) MarkFailed(reason string) {
	now := time.Now().UTC()
	a.ProcessingStatus = StatusFailed
	a.LastError = reason
	a.CompletedAt = &now
	a.UpdatedAt = now
}

// MarkReplySent records a confirmed external send. The reply id must already
// have passed the uniqueness reservation in storage.
func (a *Answer) MarkReplySent(replyID string) {
	now := time.Now().UTC()
	a.ReplySent = true
	a.ReplyID = replyID
	a.ReplyStatus = ReplyStatusSent
	a.ReplySentAt = &now
	a.UpdatedAt = now
}

// MarkReplySuppressed records a quality-gate suppression. The answer keeps
// its text; dispatch is never attempted for it again.
func (a *Answer) MarkReplySuppressed(reason string) {
	a.ReplyStatus = ReplyStatusSuppressed
	a.LastError = reason
	a.UpdatedAt = time.Now().UTC()
}

// AlreadyDispatched is the dispatch short-circuit check: true once a send was
// confirmed, whether or not this process observed it happen.
func (a *Answer) AlreadyDispatched() bool {
	return a.ReplySent || a.ReplyID != ""
}

// RetriesExhausted reports whether another generation retry is allowed.
func (a *Answer) RetriesExhausted() bool {
	return a.RetryCount >= a.MaxRetries
}

// ValidateText rejects unusable generation output before it is stored.
func (a *Answer) ValidateText() error {
	if a.Text == "" {
		return fmt.Errorf("answer %s: empty text", a.CommentID)
	}
	return nil
}
