package interfaces

import "context"

// Notifier delivers operator alerts (urgent issues, critical feedback,
// partnership proposals). Failures are logged by callers, never block the
// pipeline.
type Notifier interface {
	NotifyClassification(ctx context.Context, payload NotificationPayload) error
}

// NotificationPayload carries the alert content.
type NotificationPayload struct {
	CommentID  string
	MediaID    string
	Username   string
	Text       string
	Label      string
	Confidence float64
	Reasoning  string
	Permalink  string
}
