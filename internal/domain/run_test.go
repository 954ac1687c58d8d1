package domain

import (
	"testing"
	"time"
)

func TestRunStatusIsTerminal(t *testing.T) {
	terminal := []RunStatus{
		RunStatusSucceeded, RunStatusFailed, RunStatusCancelled,
		RunStatusTimedOut, RunStatusOrphaned,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []RunStatus{
		RunStatusPending, RunStatusDependencyCheck, RunStatusSecretFetch,
		RunStatusProvisioning, RunStatusRunning,
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRunStatusIsLive(t *testing.T) {
	if !RunStatusProvisioning.IsLive() {
		t.Error("PROVISIONING should be live")
	}
	if !RunStatusRunning.IsLive() {
		t.Error("RUNNING should be live")
	}
	for _, s := range []RunStatus{RunStatusPending, RunStatusSecretFetch, RunStatusSucceeded, RunStatusOrphaned} {
		if s.IsLive() {
			t.Errorf("%s should not be live", s)
		}
	}
}

func TestMarkRunning(t *testing.T) {
	run := &Run{Status: RunStatusProvisioning}
	run.MarkRunning("i-0abc123")

	if run.Status != RunStatusRunning {
		t.Errorf("expected RUNNING, got %s", run.Status)
	}
	if run.InstanceID != "i-0abc123" {
		t.Errorf("expected instance binding, got %q", run.InstanceID)
	}
	if run.StartedAt == nil {
		t.Error("StartedAt should be set")
	}
}

func TestMarkSucceeded(t *testing.T) {
	run := &Run{Status: RunStatusRunning}
	run.MarkSucceeded()

	if run.Status != RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Error("exit code should be 0")
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestMarkFailedWithoutExitCode(t *testing.T) {
	run := &Run{Status: RunStatusSecretFetch}
	run.MarkFailed("secret not found: db-password", nil)

	if run.Status != RunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
	if run.ExitCode != nil {
		t.Error("exit code should stay nil when failure happened before launch")
	}
	if run.Error == "" {
		t.Error("error message should be recorded")
	}
}

func TestMarkTimedOutKeepsExitCodeEmpty(t *testing.T) {
	run := &Run{Status: RunStatusRunning}
	run.MarkTimedOut(30 * time.Minute)

	if run.Status != RunStatusTimedOut {
		t.Errorf("expected TIMED_OUT, got %s", run.Status)
	}
	if run.ExitCode != nil {
		t.Error("timed out run must not carry an exit code")
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestDuration(t *testing.T) {
	start := time.Now().Add(-10 * time.Minute)
	finish := start.Add(7 * time.Minute)

	run := &Run{StartedAt: &start, FinishedAt: &finish}
	if got := run.Duration(); got != 7*time.Minute {
		t.Errorf("expected 7m, got %s", got)
	}

	unstarted := &Run{}
	if got := unstarted.Duration(); got != 0 {
		t.Errorf("expected 0 for unstarted run, got %s", got)
	}
}

func TestHasCompute(t *testing.T) {
	run := &Run{Status: RunStatusRunning, InstanceID: "i-0abc123"}
	if !run.HasCompute() {
		t.Error("RUNNING run with instance should have compute")
	}

	finished := &Run{Status: RunStatusSucceeded, InstanceID: "i-0abc123"}
	if finished.HasCompute() {
		t.Error("terminal run should not report live compute")
	}
}
