// Package controlplane implements the dispatch loop that drives a task
// through its orchestrator to completion: service registry, task store,
// and the persist-before-publish dispatch algorithm (spec.md §4.4).
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/kvstore"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// ControlPlane owns the service registry and task store and drives
// dispatch through a single Orchestrator shared by every task.
type ControlPlane struct {
	registry     *registry
	tasks        *taskStore
	orchestrator orchestrator.Orchestrator
	mq           broker.MessageQueue
	locks        taskLocks
	subTasks     sync.Map // sub_task_id (string) -> parent task_id (string)
	publisherID  string
	logger       *slog.Logger
}

// Config bundles ControlPlane's construction parameters.
type Config struct {
	Store              kvstore.Store
	Orchestrator       orchestrator.Orchestrator
	MQ                 broker.MessageQueue
	RetrievalThreshold int
	TopK               int
	PublisherID        string
	Logger             *slog.Logger
}

// New builds a ControlPlane and loads any persisted services/tasks from
// cfg.Store.
func New(cfg Config) (*ControlPlane, error) {
	if cfg.PublisherID == "" {
		cfg.PublisherID = "control_plane"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	reg := newRegistry(cfg.Store, cfg.RetrievalThreshold, cfg.TopK)
	if err := reg.load(); err != nil {
		return nil, err
	}
	ts := newTaskStore(cfg.Store)
	if err := ts.load(); err != nil {
		return nil, err
	}
	return &ControlPlane{
		registry:     reg,
		tasks:        ts,
		orchestrator: cfg.Orchestrator,
		mq:           cfg.MQ,
		publisherID:  cfg.PublisherID,
		logger:       cfg.Logger,
	}, nil
}

// RegisterConsumer binds the control plane to its own topic in-process so
// it can react to COMPLETED_TASK messages published by services. Use
// AsConsumer(true, selfURL) instead when the broker runs as its own
// process.
func (cp *ControlPlane) RegisterConsumer() (func(ctx context.Context) error, error) {
	return cp.mq.RegisterConsumer(cp.AsConsumer(false, ""))
}

func (cp *ControlPlane) handleMessage(ctx context.Context, msg messages.QueueMessage) error {
	switch msg.Action {
	case messages.ActionCompletedTask:
		var result tasks.TaskResult
		if err := msg.Unmarshal(&result); err != nil {
			return fmt.Errorf("decode completed task: %w", err)
		}
		return cp.HandleCompletedTask(ctx, result)
	default:
		cp.logger.WarnContext(ctx, "control plane received unexpected action", "action", msg.Action)
		return nil
	}
}

// RegisterService registers or updates a service definition.
func (cp *ControlPlane) RegisterService(def services.ServiceDefinition) error {
	return cp.registry.Register(def)
}

// DeregisterService removes a service definition.
func (cp *ControlPlane) DeregisterService(serviceName string) error {
	return cp.registry.Deregister(serviceName)
}

// ListServices returns every registered service.
func (cp *ControlPlane) ListServices() []services.ServiceDefinition {
	return cp.registry.List()
}

// CreateTask persists def as a new task and immediately dispatches it.
func (cp *ControlPlane) CreateTask(ctx context.Context, def tasks.TaskDefinition) error {
	unlock := cp.locks.Lock(def.TaskID)
	defer unlock()

	rec := &taskRecord{Definition: def, Status: StatusDispatched}
	if err := cp.tasks.Put(rec); err != nil {
		return err
	}
	return cp.dispatch(ctx, rec)
}

// GetTask returns the record for taskID.
func (cp *ControlPlane) GetTask(taskID string) (*taskRecord, error) {
	return cp.tasks.Get(taskID)
}

// ListTasks returns every known task record.
func (cp *ControlPlane) ListTasks() []*taskRecord {
	return cp.tasks.List()
}

// GetResult returns the terminal result for taskID, or ok=false if the
// task has not reached COMPLETED or FAILED yet.
func (cp *ControlPlane) GetResult(taskID string) (tasks.TaskResult, bool, error) {
	rec, err := cp.tasks.Get(taskID)
	if err != nil {
		return tasks.TaskResult{}, false, err
	}
	if rec.Result == nil {
		return tasks.TaskResult{}, false, nil
	}
	return *rec.Result, true, nil
}

// resolveParentTaskID maps a completed sub-task's TaskID back to the
// parent task it was dispatched for, via the pending_sub_task_id an
// orchestrator records at dispatch time (spec.md §9 open question 1).
// Falls back to resultTaskID itself so a result that already carries the
// parent task_id (e.g. a direct HumanService reply) still resolves.
func (cp *ControlPlane) resolveParentTaskID(resultTaskID string) string {
	if parent, ok := cp.subTasks.LoadAndDelete(resultTaskID); ok {
		return parent.(string)
	}
	return resultTaskID
}

// HandleCompletedTask folds a service's result into the owning task's state
// and re-dispatches it. A result referencing an unknown task_id is logged
// and dropped, not surfaced as an error (spec.md §7 UnknownTaskID).
func (cp *ControlPlane) HandleCompletedTask(ctx context.Context, result tasks.TaskResult) error {
	taskID := cp.resolveParentTaskID(result.TaskID)
	unlock := cp.locks.Lock(taskID)
	defer unlock()

	rec, err := cp.tasks.Get(taskID)
	if err != nil {
		cp.logger.WarnContext(ctx, "completed task for unknown task id", "task_id", result.TaskID, "error", err)
		return nil
	}

	delta, err := cp.orchestrator.AddResultToState(ctx, &rec.Definition, result)
	if err != nil {
		return cp.fail(ctx, rec, fmt.Errorf("add result to state: %w", err))
	}
	rec.Definition.MergeState(delta)
	rec.Status = StatusInProgress
	if err := cp.tasks.Put(rec); err != nil {
		return err
	}
	return cp.dispatch(ctx, rec)
}

// dispatch runs the persist-before-publish algorithm for rec (spec.md
// §4.4): fetch candidates, ask the orchestrator, and either publish the
// next round of messages or, if terminal, publish the final result to the
// human topic. Caller must already hold the per-task lock for
// rec.Definition.TaskID.
func (cp *ControlPlane) dispatch(ctx context.Context, rec *taskRecord) error {
	candidates := cp.registry.Candidates(rec.Definition.Input)

	msgs, delta, err := cp.orchestrator.GetNextMessages(ctx, &rec.Definition, candidates)
	if err != nil {
		return cp.fail(ctx, rec, fmt.Errorf("orchestrator decision: %w", err))
	}
	rec.Definition.MergeState(delta)

	if len(msgs) == 0 {
		result := tasks.TaskResult{
			TaskID: rec.Definition.TaskID,
			Result: rec.Definition.StateString("result"),
		}
		rec.Status = StatusCompleted
		rec.Result = &result
		if err := cp.tasks.Put(rec); err != nil {
			return err
		}
		final, err := messages.New(cp.publisherID, messages.TopicHuman, messages.ActionCompletedTask, result)
		if err != nil {
			return fmt.Errorf("build final result message: %w", err)
		}
		return cp.mq.Publish(ctx, final)
	}

	if subTaskID, ok := delta["pending_sub_task_id"].(string); ok && subTaskID != "" {
		cp.subTasks.Store(subTaskID, rec.Definition.TaskID)
	}

	rec.Status = StatusWaiting
	if err := cp.tasks.Put(rec); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := cp.mq.Publish(ctx, msg); err != nil {
			return fmt.Errorf("publish dispatch message to %s: %w", msg.Type, err)
		}
	}
	return nil
}

// fail transitions rec to FAILED and publishes an error result to the
// human topic (spec.md §7 OrchestratorUndecided). It does not propagate
// cause: an undecided orchestrator fails the one task, it does not crash
// the control plane process.
func (cp *ControlPlane) fail(ctx context.Context, rec *taskRecord, cause error) error {
	cp.logger.ErrorContext(ctx, "task failed", "task_id", rec.Definition.TaskID, "error", cause)
	result := tasks.TaskResult{
		TaskID:  rec.Definition.TaskID,
		Result:  cause.Error(),
		IsError: true,
	}
	rec.Status = StatusFailed
	rec.Result = &result
	rec.FailReason = cause.Error()
	if err := cp.tasks.Put(rec); err != nil {
		return err
	}
	final, err := messages.New(cp.publisherID, messages.TopicHuman, messages.ActionCompletedTask, result)
	if err != nil {
		return fmt.Errorf("build failure result message: %w", err)
	}
	if pubErr := cp.mq.Publish(ctx, final); pubErr != nil {
		return fmt.Errorf("publish failure result: %w", pubErr)
	}
	return nil
}
