package queue

import (
	"time"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// ErrNoTask is returned when the queue has nothing ready to deliver.
var ErrNoTask = models.ErrNoTask

// Message is a received queue envelope: the task body plus delivery metadata.
// ReceiveCount counts deliveries of this envelope, which is what the poison
// bound applies to; the task's own Attempt field counts stage retries.
type Message struct {
	ID           string              `json:"id"`
	Task         *models.TaskMessage `json:"task"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}
