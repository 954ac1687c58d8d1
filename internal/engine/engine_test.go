package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/channel"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/provider"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/repo"
)

// --- Fakes ---

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newFakeRunStore(runs ...*domain.Run) *fakeRunStore {
	s := &fakeRunStore{runs: make(map[uuid.UUID]*domain.Run)}
	for _, r := range runs {
		cp := *r
		s.runs[r.ID] = &cp
	}
	return s
}

func (s *fakeRunStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeRunStore) GetByIdempotencyKey(_ context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.PipelineID == pipelineID && run.IdempotencyKey == key {
			cp := *run
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *fakeRunStore) LatestByPipeline(_ context.Context, pipelineID uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Run
	for _, run := range s.runs {
		if run.PipelineID != pipelineID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeRunStore) Transition(_ context.Context, run *domain.Run, from domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok || stored.Status != from {
		return repo.ErrStateConflict
	}
	cp := *run
	cp.CancelRequested = stored.CancelRequested
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeRunStore) RequestCancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if run.Status.IsTerminal() {
		return repo.ErrStateConflict
	}
	run.CancelRequested = true
	return nil
}

type fakeSnapshotStore struct {
	snapshots map[uuid.UUID]*domain.PipelineSnapshot
}

func (s *fakeSnapshotStore) GetSnapshot(_ context.Context, pipelineID uuid.UUID, _ int) (*domain.PipelineSnapshot, error) {
	snap, ok := s.snapshots[pipelineID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return snap, nil
}

func (s *fakeSnapshotStore) LatestSnapshot(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineSnapshot, error) {
	return s.GetSnapshot(ctx, pipelineID, 0)
}

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []*domain.QueueTask
	owners    map[uuid.UUID]string
	completed []uuid.UUID
	released  []uuid.UUID
	discarded []uuid.UUID
}

func (q *fakeQueue) Enqueue(_ context.Context, task *domain.QueueTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, task)
	return nil
}

func (q *fakeQueue) Lease(context.Context, []domain.TaskKind, string, time.Duration) (*domain.QueueTask, error) {
	return nil, fmt.Errorf("not used in tests")
}

// lease регистрирует текущего владельца задачи.
func (q *fakeQueue) lease(task *domain.QueueTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.owners == nil {
		q.owners = make(map[uuid.UUID]string)
	}
	q.owners[task.ID] = task.LeaseOwner
}

// reassign имитирует перевыдачу истёкшего lease другому воркеру.
func (q *fakeQueue) reassign(id uuid.UUID, owner string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.owners[id] = owner
}

func (q *fakeQueue) Complete(_ context.Context, id uuid.UUID, owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.owners[id]; ok && current != owner {
		return queue.ErrNotLeased
	}
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) Release(_ context.Context, id uuid.UUID, owner string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.owners[id]; ok && current != owner {
		return queue.ErrNotLeased
	}
	q.released = append(q.released, id)
	return nil
}

func (q *fakeQueue) Discard(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discarded = append(q.discarded, id)
	return nil
}

func (q *fakeQueue) enqueuedKinds() []domain.TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	kinds := make([]domain.TaskKind, len(q.enqueued))
	for i, t := range q.enqueued {
		kinds[i] = t.Kind
	}
	return kinds
}

type fakeProvider struct {
	mu         sync.Mutex
	launched   []provider.LaunchSpec
	terminated []string
	listed     []provider.Resource
	launchErr  error
	nextID     int
}

func (p *fakeProvider) Launch(_ context.Context, spec provider.LaunchSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchErr != nil {
		return "", p.launchErr
	}
	p.launched = append(p.launched, spec)
	p.nextID++
	return fmt.Sprintf("i-%04d", p.nextID), nil
}

func (p *fakeProvider) Terminate(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, id)
	return nil
}

func (p *fakeProvider) List(_ context.Context, tags map[string]string) ([]provider.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []provider.Resource
	for _, r := range p.listed {
		match := true
		for k, v := range tags {
			if r.Tags[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *fakeProvider) launchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.launched)
}

type fakeChannel struct {
	mu        sync.Mutex
	exitCodes map[uuid.UUID]int
}

func (c *fakeChannel) PresignedExitCodeURL(_ context.Context, runID uuid.UUID, _ time.Duration) (string, error) {
	return "https://minio.local/conveyor/run/" + runID.String() + "/exit_code", nil
}

func (c *fakeChannel) Poll(_ context.Context, runID uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.exitCodes[runID]
	if !ok {
		return 0, channel.ErrNotReady
	}
	return code, nil
}

type fakeSecrets struct {
	err error
}

func (s *fakeSecrets) ResolveAll(_ context.Context, refs []domain.SecretRef) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		out[ref.Env] = "value-of-" + ref.Ref
	}
	return out, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []string
}

func (n *fakeNotifier) Deliver(_ context.Context, runID uuid.UUID, status, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, status)
	return nil
}

// --- Test harness ---

type harness struct {
	engine   *Engine
	runs     *fakeRunStore
	queue    *fakeQueue
	provider *fakeProvider
	channel  *fakeChannel
	secrets  *fakeSecrets
	notifier *fakeNotifier
}

func newHarness(t *testing.T, runs *fakeRunStore, snapshots map[uuid.UUID]*domain.PipelineSnapshot) *harness {
	t.Helper()
	h := &harness{
		runs:     runs,
		queue:    &fakeQueue{},
		provider: &fakeProvider{},
		channel:  &fakeChannel{exitCodes: make(map[uuid.UUID]int)},
		secrets:  &fakeSecrets{},
		notifier: &fakeNotifier{},
	}
	h.engine = New(Config{
		Runs:              runs,
		Snapshots:         &fakeSnapshotStore{snapshots: snapshots},
		Tasks:             h.queue,
		Provider:          h.provider,
		Channel:           h.channel,
		Secrets:           h.secrets,
		Notifier:          h.notifier,
		PollInterval:      time.Millisecond,
		PollTicksPerLease: 3,
		DefaultTimeout:    time.Hour,
		Logger:            slog.New(slog.DiscardHandler),
	})
	return h
}

func (h *harness) execute(t *testing.T, runID uuid.UUID) *domain.QueueTask {
	t.Helper()
	task, err := domain.NewExecuteTask(runID)
	if err != nil {
		t.Fatalf("build execute task: %v", err)
	}
	task.Status = domain.QueueTaskLeased
	task.LeaseOwner = "engine-worker-0"
	h.queue.lease(task)
	h.engine.handleExecute(context.Background(), h.engine.logger, task)
	return task
}

func (h *harness) run(t *testing.T, id uuid.UUID) *domain.Run {
	t.Helper()
	run, err := h.runs.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	return run
}

func pendingRun(pipelineID uuid.UUID) *domain.Run {
	return &domain.Run{
		ID:          uuid.New(),
		PipelineID:  pipelineID,
		Version:     1,
		Status:      domain.RunStatusPending,
		TriggerKind: domain.TriggerAPI,
		CreatedAt:   time.Now(),
	}
}

func snapshotFor(pipelineID uuid.UUID) *domain.PipelineSnapshot {
	return &domain.PipelineSnapshot{
		PipelineID: pipelineID,
		Version:    1,
		BuildRef:   "registry.local/app:v1",
		TimeoutSec: 1800,
		CreatedAt:  time.Now(),
	}
}

// --- Tests ---

func TestExecuteHappyPath(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	h.channel.exitCodes[run.ID] = 0

	task := h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED (error: %s)", got.Status, got.Error)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", got.ExitCode)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatal("terminal run must have both started_at and finished_at")
	}
	if got.FinishedAt.Before(*got.StartedAt) {
		t.Error("finished_at must not precede started_at")
	}
	if got.InstanceID == "" {
		t.Error("instance binding must be retained for audit")
	}
	if h.provider.launchCount() != 1 {
		t.Errorf("launch count = %d, want 1", h.provider.launchCount())
	}
	if len(h.provider.terminated) != 1 || h.provider.terminated[0] != got.InstanceID {
		t.Errorf("terminated = %v, want [%s]", h.provider.terminated, got.InstanceID)
	}
	if len(h.queue.completed) != 1 || h.queue.completed[0] != task.ID {
		t.Errorf("completed = %v, want [%s]", h.queue.completed, task.ID)
	}
}

func TestExecuteNonzeroExitCode(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	h.channel.exitCodes[run.ID] = 2

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 2 {
		t.Errorf("exit code = %v, want 2", got.ExitCode)
	}
	if !strings.Contains(got.Error, "exited with code 2") {
		t.Errorf("error = %q, want mention of exit code", got.Error)
	}
	if len(h.provider.terminated) != 1 {
		t.Errorf("terminate calls = %d, want 1", len(h.provider.terminated))
	}
}

func TestDependencyNotSatisfiedFailsWithoutLaunch(t *testing.T) {
	depID := uuid.New()
	pipelineID := uuid.New()

	failedDep := pendingRun(depID)
	failedDep.MarkFailed("boom", nil)

	run := pendingRun(pipelineID)
	snap := snapshotFor(pipelineID)
	snap.DependsOn = []uuid.UUID{depID}

	h := newHarness(t, newFakeRunStore(run, failedDep), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.Contains(got.Error, "dependency not satisfied") {
		t.Errorf("error = %q, want dependency message", got.Error)
	}
	if h.provider.launchCount() != 0 {
		t.Errorf("launch count = %d, want 0", h.provider.launchCount())
	}
}

func TestMissingDependencyRunFails(t *testing.T) {
	depID := uuid.New()
	pipelineID := uuid.New()

	run := pendingRun(pipelineID)
	snap := snapshotFor(pipelineID)
	snap.DependsOn = []uuid.UUID{depID}

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if h.provider.launchCount() != 0 {
		t.Errorf("launch count = %d, want 0", h.provider.launchCount())
	}
}

func TestSecretResolutionFailureFailsWithoutLaunch(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	snap := snapshotFor(pipelineID)
	snap.SecretRefs = []domain.SecretRef{{Env: "DB_PASS", Ref: "prod/db"}}

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})
	h.secrets.err = fmt.Errorf("secret not found: prod/db")

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.Contains(got.Error, "secret resolution failed") {
		t.Errorf("error = %q, want secret resolution message", got.Error)
	}
	if h.provider.launchCount() != 0 {
		t.Errorf("launch count = %d, want 0", h.provider.launchCount())
	}
}

func TestProvisionErrorFailsRun(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	h.provider.launchErr = fmt.Errorf("%w: capacity", provider.ErrProvision)

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.Contains(got.Error, "provisioning failed") {
		t.Errorf("error = %q, want provisioning message", got.Error)
	}
}

func TestTerminalRedeliveryIsNoop(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	run.MarkSucceeded()

	snap := snapshotFor(pipelineID)
	snap.NotifyOnFailure = true

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})

	task := h.execute(t, run.ID)

	if h.provider.launchCount() != 0 {
		t.Errorf("redelivery launched compute: %d launches", h.provider.launchCount())
	}
	if kinds := h.queue.enqueuedKinds(); len(kinds) != 0 {
		t.Errorf("redelivery enqueued tasks: %v", kinds)
	}
	if len(h.queue.completed) != 1 || h.queue.completed[0] != task.ID {
		t.Errorf("task must be completed without side effects, completed = %v", h.queue.completed)
	}
}

func TestRedeliveryAdoptsDiscoveredInstance(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	run.Status = domain.RunStatusProvisioning

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	h.provider.listed = []provider.Resource{{
		ID: "i-orphan-1",
		Tags: map[string]string{
			provider.TagManaged: provider.TagManagedValue,
			provider.TagRunID:   run.ID.String(),
		},
		State:      "running",
		LaunchedAt: time.Now(),
	}}
	h.channel.exitCodes[run.ID] = 0

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}
	if got.InstanceID != "i-orphan-1" {
		t.Errorf("instance = %s, want adopted i-orphan-1", got.InstanceID)
	}
	if h.provider.launchCount() != 0 {
		t.Errorf("adopted instance must not trigger a second launch, got %d", h.provider.launchCount())
	}
}

func TestTimeoutForcesTermination(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	started := time.Now().Add(-35 * time.Minute)
	run.Status = domain.RunStatusRunning
	run.InstanceID = "i-slow-1"
	run.StartedAt = &started

	snap := snapshotFor(pipelineID)
	snap.TimeoutSec = 1800 // 30m

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusTimedOut {
		t.Fatalf("status = %s, want TIMED_OUT", got.Status)
	}
	if got.ExitCode != nil {
		t.Errorf("timed-out run must not record an exit code, got %d", *got.ExitCode)
	}
	if len(h.provider.terminated) != 1 || h.provider.terminated[0] != "i-slow-1" {
		t.Errorf("terminated = %v, want [i-slow-1]", h.provider.terminated)
	}
}

func TestCancelObservedAtPollTick(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	started := time.Now()
	run.Status = domain.RunStatusRunning
	run.InstanceID = "i-cancel-1"
	run.StartedAt = &started

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})

	cc := NewCancelController(h.runs, slog.New(slog.DiscardHandler))
	if err := cc.RequestCancel(context.Background(), run.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	h.execute(t, run.ID)

	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if len(h.provider.terminated) != 1 || h.provider.terminated[0] != "i-cancel-1" {
		t.Errorf("terminated = %v, want [i-cancel-1]", h.provider.terminated)
	}
}

func TestCancelTerminalRunNotCancellable(t *testing.T) {
	run := pendingRun(uuid.New())
	run.MarkSucceeded()
	store := newFakeRunStore(run)

	cc := NewCancelController(store, slog.New(slog.DiscardHandler))
	err := cc.RequestCancel(context.Background(), run.ID)
	if err == nil || !strings.Contains(err.Error(), "not cancellable") {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}

	got, _ := store.GetByID(context.Background(), run.ID)
	if got.Status != domain.RunStatusSucceeded || got.CancelRequested {
		t.Error("rejected cancel must not change run state")
	}
}

func TestPollBudgetReleasesTask(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	started := time.Now()
	run.Status = domain.RunStatusRunning
	run.InstanceID = "i-long-1"
	run.StartedAt = &started

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	// exit code не записан — контейнер всё ещё выполняется

	task := h.execute(t, run.ID)

	if len(h.queue.released) != 1 || h.queue.released[0] != task.ID {
		t.Fatalf("released = %v, want [%s]", h.queue.released, task.ID)
	}
	if len(h.queue.completed) != 0 {
		t.Errorf("task must not be completed while run is in flight")
	}
	got := h.run(t, run.ID)
	if got.Status != domain.RunStatusRunning {
		t.Errorf("status = %s, want RUNNING", got.Status)
	}
}

func TestReassignedLeaseNotCompletedByStaleWorker(t *testing.T) {
	// Воркер пережил свой lease: задача уже перевыдана другому.
	// Его Complete должен отскочить, не трогая чужой lease.
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	})
	h.channel.exitCodes[run.ID] = 0

	task, err := domain.NewExecuteTask(run.ID)
	if err != nil {
		t.Fatalf("build execute task: %v", err)
	}
	task.Status = domain.QueueTaskLeased
	task.LeaseOwner = "engine-worker-0"
	h.queue.lease(task)
	h.queue.reassign(task.ID, "engine-worker-1")

	h.engine.handleExecute(context.Background(), h.engine.logger, task)

	if len(h.queue.completed) != 0 {
		t.Errorf("stale worker completed task: %v", h.queue.completed)
	}
	if len(h.queue.released) != 0 {
		t.Errorf("stale worker released task: %v", h.queue.released)
	}
}

func TestFailureEnqueuesNotifyTask(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	snap := snapshotFor(pipelineID)
	snap.NotifyOnFailure = true

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})
	h.channel.exitCodes[run.ID] = 1

	h.execute(t, run.ID)

	kinds := h.queue.enqueuedKinds()
	if len(kinds) != 1 || kinds[0] != domain.TaskKindNotify {
		t.Fatalf("enqueued kinds = %v, want [notify]", kinds)
	}
}

func TestSuccessDoesNotNotify(t *testing.T) {
	pipelineID := uuid.New()
	run := pendingRun(pipelineID)
	snap := snapshotFor(pipelineID)
	snap.NotifyOnFailure = true

	h := newHarness(t, newFakeRunStore(run), map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snap,
	})
	h.channel.exitCodes[run.ID] = 0

	h.execute(t, run.ID)

	if kinds := h.queue.enqueuedKinds(); len(kinds) != 0 {
		t.Errorf("succeeded run must not notify, enqueued = %v", kinds)
	}
}

func TestTriggerIdempotency(t *testing.T) {
	pipelineID := uuid.New()
	store := newFakeRunStore()
	queue := &fakeQueue{}
	snapshots := &fakeSnapshotStore{snapshots: map[uuid.UUID]*domain.PipelineSnapshot{
		pipelineID: snapshotFor(pipelineID),
	}}

	trigger := NewTrigger(store, snapshots, queue, nil, slog.New(slog.DiscardHandler))

	first, err := trigger.RequestRun(context.Background(), pipelineID, domain.TriggerSchedule, "sched-1", "sched-1_1700000000")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := trigger.RequestRun(context.Background(), pipelineID, domain.TriggerSchedule, "sched-1", "sched-1_1700000000")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("idempotent requests created distinct runs: %s vs %s", first.ID, second.ID)
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("enqueued = %d tasks, want 1", len(queue.enqueued))
	}
}

func TestTriggerWithoutSnapshotFails(t *testing.T) {
	trigger := NewTrigger(newFakeRunStore(), &fakeSnapshotStore{snapshots: map[uuid.UUID]*domain.PipelineSnapshot{}}, &fakeQueue{}, nil, slog.New(slog.DiscardHandler))

	_, err := trigger.RequestRun(context.Background(), uuid.New(), domain.TriggerAPI, "user", "")
	if err == nil || !strings.Contains(err.Error(), "no snapshot") {
		t.Fatalf("err = %v, want ErrNoSnapshot", err)
	}
}
