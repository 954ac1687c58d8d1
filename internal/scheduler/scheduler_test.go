package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// --- Fakes ---

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules []domain.Schedule
	updated   []domain.Schedule
}

func (s *fakeScheduleStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *fakeScheduleStore) Update(_ context.Context, sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, *sched)
	for i := range s.schedules {
		if s.schedules[i].ID == sched.ID {
			s.schedules[i] = *sched
		}
	}
	return nil
}

type fakeRunStore struct {
	runs []domain.Run
}

func (s *fakeRunStore) ListSucceededSince(_ context.Context, since time.Time, limit int) ([]domain.Run, error) {
	var out []domain.Run
	for _, r := range s.runs {
		if r.Status != domain.RunStatusSucceeded || r.FinishedAt == nil {
			continue
		}
		if !r.FinishedAt.After(since) {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakePipelineStore хранит версионированные snapshots; depends_on
// проверяется только по последней версии каждого pipeline.
type fakePipelineStore struct {
	snapshots map[uuid.UUID][]*domain.PipelineSnapshot
}

func (s *fakePipelineStore) put(snap *domain.PipelineSnapshot) {
	if s.snapshots == nil {
		s.snapshots = make(map[uuid.UUID][]*domain.PipelineSnapshot)
	}
	s.snapshots[snap.PipelineID] = append(s.snapshots[snap.PipelineID], snap)
}

func (s *fakePipelineStore) ListDependents(_ context.Context, dependencyID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for pipelineID, versions := range s.snapshots {
		var latest *domain.PipelineSnapshot
		for _, snap := range versions {
			if latest == nil || snap.Version > latest.Version {
				latest = snap
			}
		}
		for _, dep := range latest.DependsOn {
			if dep == dependencyID {
				ids = append(ids, pipelineID)
				break
			}
		}
	}
	return ids, nil
}

type triggerCall struct {
	pipelineID     uuid.UUID
	kind           domain.TriggerKind
	idempotencyKey string
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
	byKey map[string]*domain.Run
}

func (t *fakeTrigger) RequestRun(_ context.Context, pipelineID uuid.UUID, kind domain.TriggerKind, _, idempotencyKey string) (*domain.Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, triggerCall{pipelineID: pipelineID, kind: kind, idempotencyKey: idempotencyKey})

	if t.byKey == nil {
		t.byKey = make(map[string]*domain.Run)
	}
	if idempotencyKey != "" {
		if run, ok := t.byKey[idempotencyKey]; ok {
			return run, nil
		}
	}
	run := &domain.Run{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Version:    1,
		Status:     domain.RunStatusPending,
		CreatedAt:  time.Now(),
	}
	if idempotencyKey != "" {
		t.byKey[idempotencyKey] = run
	}
	return run, nil
}

func (t *fakeTrigger) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func newScheduler(schedules ScheduleStore, runs RunStore, pipelines PipelineStore, trigger RunRequester) *Scheduler {
	return New(Config{
		Schedules: schedules,
		Runs:      runs,
		Pipelines: pipelines,
		Trigger:   trigger,
		Logger:    slog.New(slog.DiscardHandler),
	})
}

func snapshotVersion(pipelineID uuid.UUID, version int, dependsOn ...uuid.UUID) *domain.PipelineSnapshot {
	return &domain.PipelineSnapshot{
		PipelineID: pipelineID,
		Version:    version,
		BuildRef:   "registry.local/app:v1",
		DependsOn:  dependsOn,
		TimeoutSec: 1800,
		CreatedAt:  time.Now(),
	}
}

func succeededRun(pipelineID uuid.UUID, finishedAt time.Time) domain.Run {
	zero := 0
	started := finishedAt.Add(-time.Minute)
	return domain.Run{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Version:    1,
		Status:     domain.RunStatusSucceeded,
		ExitCode:   &zero,
		StartedAt:  &started,
		FinishedAt: &finishedAt,
		CreatedAt:  started,
	}
}

// --- Tests ---

func TestDueScheduleCreatesRun(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	sched := domain.Schedule{
		ID:          uuid.New(),
		PipelineID:  uuid.New(),
		IntervalSec: 3600,
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   &due,
	}
	schedules := &fakeScheduleStore{schedules: []domain.Schedule{sched}}
	trigger := &fakeTrigger{}

	s := newScheduler(schedules, &fakeRunStore{}, &fakePipelineStore{}, trigger)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if trigger.callCount() != 1 {
		t.Fatalf("trigger calls = %d, want 1", trigger.callCount())
	}
	call := trigger.calls[0]
	if call.kind != domain.TriggerSchedule {
		t.Errorf("trigger kind = %s, want schedule", call.kind)
	}
	wantKey := fmt.Sprintf("%s_%d", sched.ID, due.Unix())
	if call.idempotencyKey != wantKey {
		t.Errorf("idempotency key = %q, want %q", call.idempotencyKey, wantKey)
	}

	if len(schedules.updated) != 1 {
		t.Fatalf("schedule updates = %d, want 1", len(schedules.updated))
	}
	next := schedules.updated[0].NextDueAt
	if next == nil || !next.After(time.Now()) {
		t.Errorf("next_due_at = %v, want a future time", next)
	}
}

func TestRepeatedTickReusesIdempotencyKey(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	sched := domain.Schedule{
		ID:          uuid.New(),
		PipelineID:  uuid.New(),
		IntervalSec: 0, // некорректный schedule: next_due_at не сдвигается
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   &due,
	}
	schedules := &fakeScheduleStore{schedules: []domain.Schedule{sched}}
	trigger := &fakeTrigger{}

	s := newScheduler(schedules, &fakeRunStore{}, &fakePipelineStore{}, trigger)
	for i := 0; i < 3; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if len(trigger.byKey) != 1 {
		t.Errorf("distinct runs = %d, want 1 (same due time must map to one run)", len(trigger.byKey))
	}
}

func TestDependencySuccessTriggersDependents(t *testing.T) {
	depID := uuid.New()
	dependentID := uuid.New()

	pipelines := &fakePipelineStore{}
	pipelines.put(snapshotVersion(dependentID, 1, depID))

	depRun := succeededRun(depID, time.Now().Add(time.Second))
	runs := &fakeRunStore{runs: []domain.Run{depRun}}
	trigger := &fakeTrigger{}

	s := newScheduler(&fakeScheduleStore{}, runs, pipelines, trigger)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if trigger.callCount() != 1 {
		t.Fatalf("trigger calls = %d, want 1", trigger.callCount())
	}
	call := trigger.calls[0]
	if call.pipelineID != dependentID {
		t.Errorf("triggered pipeline = %s, want %s", call.pipelineID, dependentID)
	}
	if call.kind != domain.TriggerDependency {
		t.Errorf("trigger kind = %s, want dependency", call.kind)
	}
	wantKey := fmt.Sprintf("%s_%s", depRun.ID, dependentID)
	if call.idempotencyKey != wantKey {
		t.Errorf("idempotency key = %q, want %q", call.idempotencyKey, wantKey)
	}
}

func TestDependencyRemovedInLatestVersionNotTriggered(t *testing.T) {
	depID := uuid.New()
	dependentID := uuid.New()

	// v1 зависел от depID, v2 зависимость убрал: действует только
	// последняя версия, старый snapshot не должен перезапускать pipeline.
	pipelines := &fakePipelineStore{}
	pipelines.put(snapshotVersion(dependentID, 1, depID))
	pipelines.put(snapshotVersion(dependentID, 2))

	depRun := succeededRun(depID, time.Now().Add(time.Second))
	runs := &fakeRunStore{runs: []domain.Run{depRun}}
	trigger := &fakeTrigger{}

	s := newScheduler(&fakeScheduleStore{}, runs, pipelines, trigger)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if trigger.callCount() != 0 {
		t.Fatalf("trigger calls = %d, want 0 (dependency dropped in latest version)", trigger.callCount())
	}
}

func TestWatermarkAdvancesPastProcessedRuns(t *testing.T) {
	depID := uuid.New()
	dependentID := uuid.New()

	pipelines := &fakePipelineStore{}
	pipelines.put(snapshotVersion(dependentID, 1, depID))

	runs := &fakeRunStore{runs: []domain.Run{succeededRun(depID, time.Now().Add(time.Second))}}
	trigger := &fakeTrigger{}

	s := newScheduler(&fakeScheduleStore{}, runs, pipelines, trigger)
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if trigger.callCount() != 1 {
		t.Errorf("trigger calls = %d, want 1 (second tick must start past the watermark)", trigger.callCount())
	}
}
