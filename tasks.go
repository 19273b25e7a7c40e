package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// task is the registry's internal record for one tasks/create invocation. sessionID is
// stored by value, not a reference to the owning serverSession, which is how the
// owner-vs-registry reference cycle is avoided: the registry looks the session up
// through a SessionManager at delivery time instead of holding it directly.
type task struct {
	id        string
	sessionID string

	mu     sync.Mutex
	status TaskStatus
	result *CallToolResult
	err    string

	cancel context.CancelFunc
}

func (t *task) snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		ID:     t.id,
		Status: t.status,
		Result: t.result,
		Error:  t.err,
	}
}

// TaskRegistry implements TaskServer by running a wrapped ToolServer's CallTool method
// in a detached goroutine per task, instead of inline in the tools/call request path.
// Status changes are pushed to the owning session through a SessionManager, the same
// targeted-delivery mechanism a SubscriptionBus uses for resource updates.
type TaskRegistry struct {
	tools   ToolServer
	sessMgr *SessionManager
	logger  *slog.Logger

	sendTimeout time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskRegistry creates a TaskRegistry that runs tools through tools and notifies
// task owners via sm.
func NewTaskRegistry(tools ToolServer, sm *SessionManager, logger *slog.Logger) *TaskRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRegistry{
		tools:       tools,
		sessMgr:     sm,
		logger:      logger.With(slog.String("component", "taskregistry")),
		sendTimeout: 10 * time.Second,
		tasks:       make(map[string]*task),
	}
}

// CreateTask implements TaskServer.
func (r *TaskRegistry) CreateTask(_ context.Context, sessionID string, params CreateTaskParams) (TaskSnapshot, error) {
	t := &task{
		id:        uuid.New().String(),
		sessionID: sessionID,
		status:    TaskStatusPending,
	}

	// The task's context is deliberately not derived from the request context that
	// created it: tasks/create returns immediately, while the tool keeps running.
	taskCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	r.mu.Lock()
	r.tasks[t.id] = t
	r.mu.Unlock()

	go r.run(taskCtx, t, params)

	return t.snapshot(), nil
}

func (r *TaskRegistry) run(ctx context.Context, t *task, params CreateTaskParams) {
	t.mu.Lock()
	t.status = TaskStatusRunning
	t.mu.Unlock()
	r.notify(t)

	result, err := r.tools.CallTool(ctx, CallToolParams{
		Name:      params.Name,
		Arguments: params.Arguments,
	}, func(ProgressParams) {}, func(msg JSONRPCMessage) (JSONRPCMessage, error) {
		return JSONRPCMessage{}, fmt.Errorf("tasks do not support server-to-client requests")
	})

	t.mu.Lock()
	switch {
	case ctx.Err() != nil:
		t.status = TaskStatusCancelled
		t.err = "task cancelled"
	case err != nil:
		t.status = TaskStatusFailed
		t.err = err.Error()
	default:
		t.status = TaskStatusCompleted
		t.result = &result
	}
	t.mu.Unlock()

	r.notify(t)
}

func (r *TaskRegistry) notify(t *task) {
	paramsBs, err := json.Marshal(notificationsTasksStatusChangedParams{Task: t.snapshot()})
	if err != nil {
		r.logger.Error("failed to marshal task status params", slog.String("err", err.Error()))
		return
	}
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsTasksStatusChanged,
		Params:  paramsBs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	if err := r.sessMgr.Send(ctx, t.sessionID, msg); err != nil {
		r.logger.Debug("failed to deliver task status change",
			slog.String("taskID", t.id), slog.String("err", err.Error()))
	}
}

func (r *TaskRegistry) owned(sessionID, id string) (*task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.sessionID != sessionID {
		return nil, fmt.Errorf("task %q not found", id)
	}
	return t, nil
}

// GetTask implements TaskServer.
func (r *TaskRegistry) GetTask(_ context.Context, sessionID string, params GetTaskParams) (TaskSnapshot, error) {
	t, err := r.owned(sessionID, params.ID)
	if err != nil {
		return TaskSnapshot{}, err
	}
	return t.snapshot(), nil
}

// CancelTask implements TaskServer. Cancelling an already-terminal task is a no-op that
// returns its current snapshot rather than an error.
func (r *TaskRegistry) CancelTask(_ context.Context, sessionID string, params CancelTaskParams) (TaskSnapshot, error) {
	t, err := r.owned(sessionID, params.ID)
	if err != nil {
		return TaskSnapshot{}, err
	}

	t.mu.Lock()
	terminal := isTerminal(t.status)
	t.mu.Unlock()

	if !terminal {
		t.cancel()
	}

	return t.snapshot(), nil
}

// DeleteTask implements TaskServer. Deleting a non-terminal task is rejected; the caller
// must cancel it first.
func (r *TaskRegistry) DeleteTask(_ context.Context, sessionID string, params DeleteTaskParams) error {
	t, err := r.owned(sessionID, params.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	terminal := isTerminal(t.status)
	t.mu.Unlock()
	if !terminal {
		return fmt.Errorf("task %q is not terminal", params.ID)
	}

	r.mu.Lock()
	delete(r.tasks, params.ID)
	r.mu.Unlock()

	return nil
}

// ListTasks implements TaskServer.
func (r *TaskRegistry) ListTasks(_ context.Context, sessionID string, params ListTasksParams) (ListTasksResult, error) {
	offset, err := DecodeCursor(params.Cursor)
	if err != nil {
		return ListTasksResult{}, err
	}

	r.mu.Lock()
	owned := make([]*task, 0)
	for _, t := range r.tasks {
		if t.sessionID == sessionID {
			owned = append(owned, t)
		}
	}
	r.mu.Unlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i].id < owned[j].id })

	const pageSize = 50
	result := ListTasksResult{}
	end := offset + pageSize
	if end > len(owned) {
		end = len(owned)
	}
	if offset < len(owned) {
		for _, t := range owned[offset:end] {
			result.Tasks = append(result.Tasks, t.snapshot())
		}
	}
	if end < len(owned) {
		result.NextCursor = EncodeCursor(end)
	}

	return result, nil
}

// CancelSession cancels every non-terminal task owned by sessionID, for use when the
// session's transport connection is torn down. Tasks are not deleted, only signalled for
// cancellation, so a client that reconnects with the same session ID could still observe
// the Cancelled terminal state through GetTask — though this server never reuses IDs
// across reconnects, so in practice the record is simply left for a later DeleteTask.
func (r *TaskRegistry) CancelSession(sessionID string) {
	r.mu.Lock()
	var owned []*task
	for _, t := range r.tasks {
		if t.sessionID == sessionID {
			owned = append(owned, t)
		}
	}
	r.mu.Unlock()

	for _, t := range owned {
		t.mu.Lock()
		terminal := isTerminal(t.status)
		t.mu.Unlock()
		if !terminal {
			t.cancel()
		}
	}
}

func isTerminal(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
