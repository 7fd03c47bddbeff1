// -----------------------------------------------------------------------
// Orchestrator - Routes pipeline tasks from the queue to stage workers
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
	"github.com/lun1tunes/InstaChatico/internal/queue"
)

// Backoff configuration for idle polling
const (
	minBackoff = 100 * time.Millisecond // Initial backoff when queue is empty
	maxBackoff = 5 * time.Second        // Maximum backoff duration

	// lockContentionRequeueDelay re-schedules a task whose comment lock is
	// held elsewhere (usually a scheduler sweep racing a live task).
	lockContentionRequeueDelay = 2 * time.Second
)

// Orchestrator drives comments through the pipeline state machine. It routes
// queued tasks to registered stage workers, serializes all work on one
// comment behind a lock, applies the failure taxonomy the workers report,
// and persists every state transition before enqueueing the next stage.
//
// Supports concurrent task processing via multiple worker goroutines;
// concurrency across distinct comments, never within one.
type Orchestrator struct {
	queueMgr    interfaces.QueueManager
	comments    interfaces.CommentStorage
	locks       interfaces.LockManager
	events      interfaces.EventService
	executors   map[models.Stage]interfaces.StageWorker
	logger      arbor.ILogger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
	concurrency int

	lockTTL    time.Duration
	deferDelay time.Duration
	retryDelay func(attempt int) time.Duration
}

// NewOrchestrator creates an orchestrator. Stage workers are registered
// separately so construction order stays flexible.
func NewOrchestrator(
	queueMgr interfaces.QueueManager,
	comments interfaces.CommentStorage,
	locks interfaces.LockManager,
	events interfaces.EventService,
	config *common.Config,
	logger arbor.ILogger,
) (*Orchestrator, error) {
	if queueMgr == nil || comments == nil || locks == nil {
		return nil, errors.New("queue manager, comment storage and lock manager are required")
	}

	lockTTL, err := config.ParseDuration(config.Locks.DefaultTTL, 3*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid lock ttl: %w", err)
	}
	deferDelay, err := config.ParseDuration(config.Retry.DeferRequeueDelay, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid defer requeue delay: %w", err)
	}

	concurrency := config.Queue.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		queueMgr:    queueMgr,
		comments:    comments,
		locks:       locks,
		events:      events,
		executors:   make(map[models.Stage]interfaces.StageWorker),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
		lockTTL:     lockTTL,
		deferDelay:  deferDelay,
		retryDelay:  config.RetryDelay,
	}, nil
}

// RegisterExecutor registers a stage worker for the stage it handles.
func (o *Orchestrator) RegisterExecutor(worker interfaces.StageWorker) {
	stage := worker.GetStage()
	o.executors[stage] = worker
	o.logger.Debug().
		Str("stage", string(stage)).
		Msg("Stage worker registered")
}

// Start starts the orchestrator's worker goroutines.
// Call AFTER all services are fully initialized to avoid racing half-wired
// dependencies.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warn().Msg("Orchestrator already running")
		return
	}

	o.running = true
	o.logger.Info().
		Int("concurrency", o.concurrency).
		Int("stages", len(o.executors)).
		Msg("Starting orchestrator")

	for i := 0; i < o.concurrency; i++ {
		o.wg.Add(1)
		go o.processTasks(i)
	}
}

// Stop stops the orchestrator gracefully, draining in-flight tasks.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.logger.Info().Msg("Stopping orchestrator...")
	o.cancel()
	o.wg.Wait()
	o.logger.Info().Msg("Orchestrator stopped")
}

// processTasks is the main polling loop for one worker goroutine.
func (o *Orchestrator) processTasks(workerID int) {
	defer o.wg.Done()

	// Panic wrapper: a crash here would silently halve throughput
	defer func() {
		if r := recover(); r != nil {
			o.logger.Fatal().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Int("worker_id", workerID).
				Msg("FATAL: Orchestrator goroutine panicked")
		}
	}()

	o.logger.Debug().
		Int("worker_id", workerID).
		Msg("Orchestrator worker started")

	currentBackoff := minBackoff

	for {
		select {
		case <-o.ctx.Done():
			o.logger.Debug().
				Int("worker_id", workerID).
				Msg("Orchestrator worker stopping")
			return
		default:
			taskProcessed := o.processNextTask(workerID)

			if taskProcessed {
				currentBackoff = minBackoff
			} else {
				select {
				case <-o.ctx.Done():
					return
				case <-time.After(currentBackoff):
				}

				currentBackoff = currentBackoff * 2
				if currentBackoff > maxBackoff {
					currentBackoff = maxBackoff
				}
			}
		}
	}
}

// getStackTrace returns a formatted stack trace for panic debugging
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// processNextTask claims and handles one task. Returns true if a task was
// claimed, false when the queue was empty.
func (o *Orchestrator) processNextTask(workerID int) bool {
	ctx, cancel := context.WithTimeout(o.ctx, time.Second)
	defer cancel()

	var msg *queue.Message
	var deleteFn func() error
	var err error

	// Per-task panic recovery. The envelope is deleted so the poisoned task
	// does not loop; the stage record stays in processing status and the
	// stale sweep re-drives it.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Int("worker_id", workerID).
				Msg("Recovered from panic while handling task")

			if msg != nil && deleteFn != nil {
				if err := deleteFn(); err != nil {
					o.logger.Error().Err(err).Msg("Failed to delete task after panic")
				}
			}
		}
	}()

	msg, deleteFn, err = o.queueMgr.Receive(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoTask) {
			o.logger.Error().Err(err).Int("worker_id", workerID).Msg("Queue receive failed")
		}
		return false
	}

	task := msg.Task

	if err := task.Validate(); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("Invalid task, dropping")
		o.ack(deleteFn, task)
		return true
	}

	worker, ok := o.executors[task.Stage]
	if !ok {
		o.logger.Error().
			Str("stage", string(task.Stage)).
			Str("task_id", task.ID).
			Msg("No worker registered for stage, dropping task")
		o.ack(deleteFn, task)
		return true
	}

	if err := worker.Validate(task); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("Task rejected by stage worker, dropping")
		o.ack(deleteFn, task)
		return true
	}

	// All work on one comment (or media post) is serialized behind its lock.
	lockKey := lockKeyFor(task)
	token, acquired, err := o.locks.Acquire(o.ctx, lockKey, o.lockTTL)
	if err != nil {
		// Fail closed: leave the claim in place, redelivery retries later
		o.logger.Error().Err(err).Str("lock_key", lockKey).Msg("Lock store unavailable, leaving task claimed")
		return true
	}
	if !acquired {
		o.logger.Debug().
			Str("lock_key", lockKey).
			Str("task_id", task.ID).
			Msg("Lock contended, rescheduling task")
		o.ack(deleteFn, task)
		o.requeue(task, lockContentionRequeueDelay)
		return true
	}
	defer func() {
		if err := o.locks.Release(o.ctx, lockKey, token); err != nil {
			o.logger.Warn().Err(err).Str("lock_key", lockKey).Msg("Lock release failed")
		}
	}()

	taskStartTime := time.Now()
	taskLogger := o.logger.WithCorrelationId(correlationIDFor(task))

	taskLogger.Info().
		Str("task_id", task.ID).
		Str("stage", string(task.Stage)).
		Int("attempt", task.Attempt).
		Int("worker_id", workerID).
		Msg("Stage started")

	// Position the comment's state machine for this stage; media tasks have
	// no comment and skip straight to execution.
	var comment *models.Comment
	if task.Stage != models.StageAnalyzeMedia {
		comment, err = o.comments.GetComment(o.ctx, task.CommentID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				taskLogger.Error().Str("comment_id", task.CommentID).Msg("Comment missing for task, dropping")
				o.ack(deleteFn, task)
				return true
			}
			taskLogger.Error().Err(err).Msg("Comment fetch failed, leaving task claimed")
			return true
		}

		proceed := o.enterStage(comment, task, taskLogger)
		if !proceed {
			o.ack(deleteFn, task)
			return true
		}
	}

	outcome, execErr := worker.Execute(o.ctx, task)

	if execErr != nil {
		o.failStage(task, comment, worker, execErr, taskLogger)
		taskLogger.Warn().
			Str("task_id", task.ID).
			Str("stage", string(task.Stage)).
			Dur("duration", time.Since(taskStartTime)).
			Str("error", execErr.Error()).
			Msg("Stage did not complete")
	} else {
		o.completeStage(task, outcome, taskLogger)
		taskLogger.Info().
			Str("task_id", task.ID).
			Str("stage", string(task.Stage)).
			Int("worker_id", workerID).
			Dur("duration", time.Since(taskStartTime)).
			Msg("Stage completed")
	}

	o.ack(deleteFn, task)
	return true
}

// enterStage moves the comment into the stage's active state. Returns false
// when the task is stale (comment already terminal) or inconsistent (a later
// stage's task arrived before earlier stages ran).
func (o *Orchestrator) enterStage(comment *models.Comment, task *models.TaskMessage, logger arbor.ILogger) bool {
	entry := stageEntryState(task.Stage)
	cur := comment.PipelineState

	switch {
	case cur == entry:
		// Retry or redelivery of the in-flight stage
		return true

	case cur.CanTransition(entry):
		if err := o.comments.SetPipelineState(o.ctx, comment.ID, entry); err != nil {
			logger.Error().Err(err).Str("comment_id", comment.ID).Msg("Entry transition failed, leaving task claimed")
			return false
		}
		o.publishTransition(comment.ID, cur, entry, task, "")
		return true

	case cur.IsTerminal():
		logger.Debug().
			Str("comment_id", comment.ID).
			Str("state", string(cur)).
			Msg("Comment already terminal, dropping task")
		return false

	case cur.Ordinal() > entry.Ordinal():
		// Crash-resume: the state advanced past this stage before the task
		// was acknowledged. The worker short-circuits from its own record
		// and re-emits the next stage.
		logger.Debug().
			Str("comment_id", comment.ID).
			Str("state", string(cur)).
			Str("entry", string(entry)).
			Msg("Resuming past completed stage")
		return true

	default:
		logger.Warn().
			Str("comment_id", comment.ID).
			Str("state", string(cur)).
			Str("stage", string(task.Stage)).
			Msg("Task inconsistent with pipeline state, dropping")
		return false
	}
}

// completeStage persists the outcome's transition and drives the pipeline
// forward: enqueue the next stage, or close out the state machine when the
// pipeline ends here.
func (o *Orchestrator) completeStage(task *models.TaskMessage, outcome *interfaces.StageOutcome, logger arbor.ILogger) {
	if outcome == nil {
		outcome = &interfaces.StageOutcome{}
	}

	if task.Stage == models.StageAnalyzeMedia {
		o.publishEvent(interfaces.EventMediaAnalyzed, map[string]interface{}{
			"media_id": task.MediaID,
			"detail":   outcome.Detail,
		})
		return
	}

	if outcome.State != "" {
		o.transitionTo(task, outcome.State, outcome.Detail, logger)
	}

	if outcome.NextStage != "" {
		next := models.NewTask(task.CommentID, outcome.NextStage)
		if err := o.queueMgr.Enqueue(o.ctx, next); err != nil {
			// The stage's own record is already durable; redelivery of this
			// task re-emits the next stage via the resume path.
			logger.Error().Err(err).
				Str("comment_id", task.CommentID).
				Str("next_stage", string(outcome.NextStage)).
				Msg("Next stage enqueue failed")
		}
		return
	}

	// No further stage: close the state machine unless already terminal
	if outcome.State != "" && !outcome.State.IsTerminal() && outcome.State.CanTransition(models.StateDispatched) {
		o.transitionTo(task, models.StateDispatched, "pipeline complete", logger)
	}
}

// failStage applies the failure taxonomy reported by a stage worker.
func (o *Orchestrator) failStage(task *models.TaskMessage, comment *models.Comment, worker interfaces.StageWorker, execErr error, logger arbor.ILogger) {
	se, ok := models.AsStageError(execErr)
	if !ok {
		// Unclassified errors never drop a comment silently
		se = models.Transient("unclassified error", execErr)
	}

	switch se.Kind {
	case models.FailureConflict:
		// Lost idempotency race: another attempt already did the work
		logger.Info().
			Str("task_id", task.ID).
			Str("reason", se.Reason).
			Msg("Stage skipped, duplicate attempt")

	case models.FailureDeferred:
		if comment != nil {
			o.transitionTo(task, models.StateDeferred, se.Reason, logger)
		}
		next := *task
		next.Defer++
		o.requeue(&next, o.deferDelay)
		logger.Info().
			Str("task_id", task.ID).
			Int("defer", next.Defer).
			Str("reason", se.Reason).
			Msg("Stage deferred, dependency not ready")

	case models.FailurePermanent:
		o.terminateFailed(task, comment, se.Reason, logger)

	default: // FailureTransient
		next := *task
		next.Attempt++
		if next.Attempt > worker.MaxAttempts() {
			// Workers bound their own retries; this is the backstop
			o.terminateFailed(task, comment, fmt.Sprintf("retries exhausted: %s", se.Reason), logger)
			return
		}
		delay := o.retryDelay(task.Attempt)
		o.requeue(&next, delay)
		logger.Warn().
			Str("task_id", task.ID).
			Int("next_attempt", next.Attempt).
			Dur("retry_in", delay).
			Str("reason", se.Reason).
			Msg("Stage failed transiently, retry scheduled")
	}
}

// terminateFailed finalizes a comment that cannot make progress. Media tasks
// have no comment record; their failure is logged and the media row keeps its
// own failed status set by the worker.
func (o *Orchestrator) terminateFailed(task *models.TaskMessage, comment *models.Comment, reason string, logger arbor.ILogger) {
	if comment != nil {
		o.transitionTo(task, models.StateFailed, reason, logger)
		o.publishEvent(interfaces.EventCommentFailed, map[string]interface{}{
			"comment_id": task.CommentID,
			"stage":      string(task.Stage),
			"reason":     reason,
		})
	}
	logger.Error().
		Str("comment_id", task.CommentID).
		Str("media_id", task.MediaID).
		Str("stage", string(task.Stage)).
		Str("reason", reason).
		Msg("Task failed terminally")
}

// transitionTo persists a state change and publishes the transition event.
func (o *Orchestrator) transitionTo(task *models.TaskMessage, to models.PipelineState, reason string, logger arbor.ILogger) {
	cur, err := o.comments.GetComment(o.ctx, task.CommentID)
	if err != nil {
		logger.Error().Err(err).Str("comment_id", task.CommentID).Msg("Comment fetch failed during transition")
		return
	}
	if cur.PipelineState == to {
		return
	}

	if err := o.comments.SetPipelineState(o.ctx, task.CommentID, to); err != nil {
		logger.Error().Err(err).
			Str("comment_id", task.CommentID).
			Str("to", string(to)).
			Msg("State transition failed")
		return
	}
	o.publishTransition(task.CommentID, cur.PipelineState, to, task, reason)
}

func (o *Orchestrator) publishTransition(commentID string, from, to models.PipelineState, task *models.TaskMessage, reason string) {
	event := models.NewPipelineEvent(commentID, from, to)
	event.Stage = task.Stage
	event.Reason = reason
	event.Attempt = task.Attempt
	o.publishEvent(interfaces.EventPipelineTransition, event)
}

func (o *Orchestrator) publishEvent(eventType interfaces.EventType, payload interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(o.ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event publish failed")
	}
}

// requeue schedules a task copy for later delivery.
func (o *Orchestrator) requeue(task *models.TaskMessage, delay time.Duration) {
	if err := o.queueMgr.EnqueueWithDelay(o.ctx, task, delay); err != nil {
		o.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("stage", string(task.Stage)).
			Msg("Task requeue failed")
	}
}

// ack deletes the queue envelope after handling.
func (o *Orchestrator) ack(deleteFn func() error, task *models.TaskMessage) {
	if err := deleteFn(); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to delete task from queue")
	}
}

// stageEntryState maps a stage to the active state the comment holds while
// that stage runs.
func stageEntryState(stage models.Stage) models.PipelineState {
	switch stage {
	case models.StageClassify:
		return models.StateClassifying
	case models.StageAnswer:
		return models.StateAnswering
	case models.StageDispatch:
		return models.StateDispatching
	default:
		return ""
	}
}

func lockKeyFor(task *models.TaskMessage) string {
	if task.Stage == models.StageAnalyzeMedia {
		return "media:" + task.MediaID
	}
	return "comment:" + task.CommentID
}

func correlationIDFor(task *models.TaskMessage) string {
	if task.Stage == models.StageAnalyzeMedia {
		return task.MediaID
	}
	return task.CommentID
}
