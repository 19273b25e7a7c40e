package mcp

import (
	"context"
	"testing"
	"time"
)

type fakeToolServer struct {
	result  CallToolResult
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeToolServer) ListTools(
	context.Context, ListToolsParams, ProgressReporter, RequestClientFunc,
) (ListToolsResult, error) {
	return ListToolsResult{}, nil
}

func (f *fakeToolServer) CallTool(
	ctx context.Context, _ CallToolParams, _ ProgressReporter, _ RequestClientFunc,
) (CallToolResult, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return CallToolResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func waitForStatus(t *testing.T, registry *TaskRegistry, sessionID, taskID string, want TaskStatus) TaskSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := registry.GetTask(context.Background(), sessionID, GetTaskParams{ID: taskID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %q never reached status %v", taskID, want)
	return TaskSnapshot{}
}

func TestTaskRegistryCreateTaskCompletes(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{result: textResultCallTool("done")}
	registry := NewTaskRegistry(tools, sm, nil)

	snap, err := registry.CreateTask(context.Background(), "sess-1", CreateTaskParams{Name: "noop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != TaskStatusPending && snap.Status != TaskStatusRunning {
		t.Fatalf("expected an initial non-terminal status, got %v", snap.Status)
	}

	final := waitForStatus(t, registry, "sess-1", snap.ID, TaskStatusCompleted)
	if final.Result == nil || len(final.Result.Content) == 0 || final.Result.Content[0].Text != "done" {
		t.Fatalf("expected the completed task to carry the tool's result, got %+v", final.Result)
	}
}

func TestTaskRegistryGetTaskRejectsWrongOwner(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{block: make(chan struct{}), started: make(chan struct{})}
	registry := NewTaskRegistry(tools, sm, nil)
	defer close(tools.block)

	snap, err := registry.CreateTask(context.Background(), "sess-1", CreateTaskParams{Name: "noop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-tools.started

	if _, err := registry.GetTask(context.Background(), "sess-2", GetTaskParams{ID: snap.ID}); err == nil {
		t.Fatalf("expected an error fetching a task owned by a different session")
	}
}

func TestTaskRegistryCancelTask(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{block: make(chan struct{}), started: make(chan struct{})}
	registry := NewTaskRegistry(tools, sm, nil)

	snap, err := registry.CreateTask(context.Background(), "sess-1", CreateTaskParams{Name: "slow"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-tools.started

	if _, err := registry.CancelTask(context.Background(), "sess-1", CancelTaskParams{ID: snap.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := waitForStatus(t, registry, "sess-1", snap.ID, TaskStatusCancelled)
	if got.Error == "" {
		t.Fatalf("expected a cancelled task to carry a non-empty error, got %+v", got)
	}
}

func TestTaskRegistryCancelSessionCancelsOwnedTasks(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{block: make(chan struct{}), started: make(chan struct{})}
	registry := NewTaskRegistry(tools, sm, nil)

	snap, err := registry.CreateTask(context.Background(), "sess-1", CreateTaskParams{Name: "slow"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-tools.started

	registry.CancelSession("sess-1")

	got := waitForStatus(t, registry, "sess-1", snap.ID, TaskStatusCancelled)
	if got.Error == "" {
		t.Fatalf("expected a cancelled task to carry a non-empty error, got %+v", got)
	}
}

func TestTaskRegistryDeleteTaskRequiresTerminal(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{block: make(chan struct{}), started: make(chan struct{})}
	registry := NewTaskRegistry(tools, sm, nil)
	defer close(tools.block)

	snap, err := registry.CreateTask(context.Background(), "sess-1", CreateTaskParams{Name: "slow"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-tools.started

	if err := registry.DeleteTask(context.Background(), "sess-1", DeleteTaskParams{ID: snap.ID}); err == nil {
		t.Fatalf("expected deleting a non-terminal task to fail")
	}
}

func TestTaskRegistryListTasksIsScopedToSession(t *testing.T) {
	sm := NewSessionManager()
	tools := &fakeToolServer{result: textResultCallTool("ok")}
	registry := NewTaskRegistry(tools, sm, nil)

	a, err := registry.CreateTask(context.Background(), "sess-a", CreateTaskParams{Name: "noop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.CreateTask(context.Background(), "sess-b", CreateTaskParams{Name: "noop"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForStatus(t, registry, "sess-a", a.ID, TaskStatusCompleted)

	list, err := registry.ListTasks(context.Background(), "sess-a", ListTasksParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != a.ID {
		t.Fatalf("expected ListTasks to return only sess-a's task, got %+v", list.Tasks)
	}
}

func textResultCallTool(s string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: s}}}
}
