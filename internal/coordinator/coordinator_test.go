package coordinator

import (
	"testing"

	"github.com/rubo/ziskgo/internal/protocol"
)

func TestHandleTaskResponseInvariantViolation(t *testing.T) {
	c := New(nil)
	handle := &workerHandle{id: "w1"}

	if err := c.handleTaskResponse(handle, &protocol.ExecuteTaskResponse{JobID: "job-1", Success: true, Result: nil}); err == nil {
		t.Fatalf("expected invariant violation for success=true with no result")
	}
	if err := c.handleTaskResponse(handle, &protocol.ExecuteTaskResponse{JobID: "job-1", Success: false, Result: &protocol.TaskResult{}}); err == nil {
		t.Fatalf("expected invariant violation for success=false with a result")
	}
	if err := c.handleTaskResponse(handle, &protocol.ExecuteTaskResponse{JobID: "job-1", Success: true, Result: &protocol.TaskResult{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.state != protocol.WorkerIdle {
		t.Fatalf("successful task response should return the worker to Idle, got %v", handle.state)
	}
}

func TestDispatchUnknownWorker(t *testing.T) {
	c := New(nil)
	if err := c.Dispatch("missing", &protocol.ExecuteTask{JobID: "job-1"}); err == nil {
		t.Fatalf("expected error dispatching to an unknown worker")
	}
}

func TestCancelJobNoWorkerHoldingIt(t *testing.T) {
	c := New(nil)
	if err := c.CancelJob("job-1", "test"); err != nil {
		t.Fatalf("CancelJob with no holder should be a no-op, got %v", err)
	}
}

func TestWorkerStateUnknown(t *testing.T) {
	c := New(nil)
	if _, ok := c.WorkerState("missing"); ok {
		t.Fatalf("expected ok=false for an unregistered worker")
	}
}
