package workflow

import (
	"testing"
	"time"

	"github.com/conducthq/conduct"
)

func TestExecutionLifecycle(t *testing.T) {
	exec := NewExecution("wf", conduct.Document{"k": "v"}, 2)
	if exec.State() != ExecutionPending {
		t.Fatalf("initial state = %s, want pending", exec.State())
	}
	if !exec.Start() {
		t.Fatal("Start() = false on pending execution")
	}
	if exec.Start() {
		t.Fatal("Start() succeeded twice")
	}
	if exec.State() != ExecutionRunning {
		t.Fatalf("state = %s, want running", exec.State())
	}
}

func TestExecutionFinalizeFirstWins(t *testing.T) {
	exec := NewExecution("wf", nil, 1)
	exec.Start()

	if !exec.Finalize(ExecutionCompleted, "") {
		t.Fatal("first Finalize rejected")
	}
	// A timeout firing after completion must not overwrite the state.
	if exec.Finalize(ExecutionFailed, "timed out") {
		t.Fatal("second Finalize accepted")
	}
	if exec.State() != ExecutionCompleted {
		t.Fatalf("state = %s, want completed", exec.State())
	}
	if st := exec.Status(); st.Error != "" {
		t.Fatalf("error = %q, want empty", st.Error)
	}
}

func TestExecutionRecordResultMergesOutput(t *testing.T) {
	exec := NewExecution("wf", conduct.Document{"seed": "s"}, 3)
	now := time.Now().UTC()

	exec.RecordResult(&StepResult{
		StepID: "a", Status: StepCompleted,
		Output:      conduct.Document{"from_a": 1, "shared": "a"},
		StartedAt:   now,
		CompletedAt: &now,
	})
	exec.RecordResult(&StepResult{
		StepID: "b", Status: StepCompleted,
		Output:      conduct.Document{"from_b": 2, "shared": "b"},
		StartedAt:   now,
		CompletedAt: &now,
	})
	// Failed results contribute nothing to shared state.
	exec.RecordResult(&StepResult{
		StepID: "c", Status: StepFailed, Error: "boom",
		Output:    conduct.Document{"from_c": 3},
		StartedAt: now,
	})

	shared := exec.SharedState()
	if shared["seed"] != "s" || shared["from_a"] != 1 || shared["from_b"] != 2 {
		t.Fatalf("shared = %v", shared)
	}
	if shared["shared"] != "b" {
		t.Fatalf("later output must win: shared[shared] = %v", shared["shared"])
	}
	if _, ok := shared["from_c"]; ok {
		t.Fatal("failed step output leaked into shared state")
	}

	// Reverse completion order.
	steps := exec.CompletedSteps()
	if len(steps) != 2 || steps[0] != "b" || steps[1] != "a" {
		t.Fatalf("CompletedSteps() = %v, want [b a]", steps)
	}
}

func TestExecutionStatusProgress(t *testing.T) {
	exec := NewExecution("wf", nil, 4)
	now := time.Now().UTC()
	exec.RecordResult(&StepResult{StepID: "a", Status: StepCompleted, StartedAt: now, CompletedAt: &now})

	st := exec.Status()
	if st.Progress != 0.25 {
		t.Fatalf("progress = %f, want 0.25", st.Progress)
	}

	// Zero-step workflows report zero progress rather than dividing by zero.
	empty := NewExecution("wf", nil, 0)
	if p := empty.Status().Progress; p != 0 {
		t.Fatalf("zero-step progress = %f, want 0", p)
	}
}

func TestExecutionSnapshotsAreCopies(t *testing.T) {
	exec := NewExecution("wf", conduct.Document{"k": "v"}, 1)
	now := time.Now().UTC()
	exec.RecordResult(&StepResult{StepID: "a", Status: StepCompleted, StartedAt: now, CompletedAt: &now})

	shared := exec.SharedState()
	shared["k"] = "mutated"
	if exec.SharedState()["k"] != "v" {
		t.Fatal("SharedState returned a live reference")
	}

	res, ok := exec.Result("a")
	if !ok {
		t.Fatal("missing result")
	}
	res.Status = StepFailed
	if got, _ := exec.Result("a"); got.Status != StepCompleted {
		t.Fatal("Result returned a live reference")
	}
}

func TestExecutionCancelFlag(t *testing.T) {
	exec := NewExecution("wf", nil, 1)
	if exec.Cancelled() {
		t.Fatal("new execution already cancelled")
	}
	exec.Cancel()
	if !exec.Cancelled() {
		t.Fatal("Cancel() did not set the flag")
	}
	// The flag is independent of the lifecycle state.
	if exec.State() != ExecutionPending {
		t.Fatalf("state = %s, want pending", exec.State())
	}
}
