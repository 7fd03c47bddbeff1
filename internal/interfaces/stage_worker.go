package interfaces

import (
	"context"

	"github.com/lun1tunes/InstaChatico/internal/models"
)

// StageOutcome is a successful stage execution's report to the orchestrator.
type StageOutcome struct {
	// State is the pipeline state the comment reached.
	State models.PipelineState

	// NextStage, when non-empty, is enqueued by the orchestrator to continue
	// the pipeline. Empty means the pipeline ends here.
	NextStage models.Stage

	// Detail is a short human-readable note for logs and events.
	Detail string
}

// StageWorker executes one pipeline stage for one task. The orchestrator
// routes tasks to workers by stage, wraps execution in the comment's lock,
// and owns all retry/backoff decisions.
//
// Execute returns either an outcome or a *models.StageError carrying the
// failure taxonomy. Errors of any other type are treated as transient.
type StageWorker interface {
	// Execute runs the stage. It must resolve to a definite outcome before
	// returning: a timeout converts to a transient error, never a partial
	// state.
	Execute(ctx context.Context, task *models.TaskMessage) (*StageOutcome, error)

	// GetStage returns the stage this worker handles.
	GetStage() models.Stage

	// Validate rejects tasks this worker cannot execute.
	Validate(task *models.TaskMessage) error

	// MaxAttempts bounds transient retries for this stage.
	MaxAttempts() int
}
