package interfaces

import (
	"context"
	"time"

	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/queue"
)

// QueueManager manages the persistent task queue. Delivery is at-least-once
// with visibility timeouts: a received task invisible to other consumers
// until the timeout elapses, deleted only via the returned delete function
// after successful handling.
type QueueManager interface {
	// Enqueue makes the task visible immediately.
	Enqueue(ctx context.Context, task *models.TaskMessage) error

	// EnqueueWithDelay schedules the task to become visible after the delay.
	// Backoff retries and deferred re-drives use this.
	EnqueueWithDelay(ctx context.Context, task *models.TaskMessage, delay time.Duration) error

	// Receive claims the next visible task. Returns models.ErrNoTask when
	// nothing is ready. The delete function acknowledges the task; not
	// calling it redelivers the task after the visibility timeout.
	Receive(ctx context.Context) (*queue.Message, func() error, error)

	// Extend pushes out the visibility timeout of an in-flight task.
	Extend(ctx context.Context, msg *queue.Message, duration time.Duration) error

	// Stats reports queue depth for observability.
	Stats(ctx context.Context) (map[string]interface{}, error)

	Close() error
}
