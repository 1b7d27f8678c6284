package settingsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/query"
)

// fakeResource is an in-memory settings store. Updates are applied at once
// and visible to the next fetch.
type fakeResource struct {
	mu        sync.Mutex
	configs   map[string]Config
	fetchErr  error
	updateErr error
	// updateGate, when set, blocks UpdateConfig until closed.
	updateGate chan struct{}
	// fetchGates block FetchConfig per target until closed.
	fetchGates map[string]chan struct{}
	fetches    map[string]int
	updates    []Config
	nextUID    int64
}

func newFakeResource() *fakeResource {
	return &fakeResource{
		configs:    make(map[string]Config),
		fetchGates: make(map[string]chan struct{}),
		fetches:    make(map[string]int),
	}
}

func (r *fakeResource) FetchConfig(ctx context.Context, target string) (Config, error) {
	r.mu.Lock()
	gate := r.fetchGates[target]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[target]++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return r.configs[target], nil
}

func (r *fakeResource) UpdateConfig(ctx context.Context, target string, cfg Config) (TaskHandle, error) {
	r.mu.Lock()
	gate := r.updateGate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, cfg)
	if r.updateErr != nil {
		return TaskHandle{}, r.updateErr
	}
	r.configs[target] = cfg
	r.nextUID++
	return TaskHandle{UID: r.nextUID, IndexUID: target, Status: "enqueued", Type: "settingsUpdate"}, nil
}

func (r *fakeResource) set(target string, cfg Config) {
	r.mu.Lock()
	r.configs[target] = cfg
	r.mu.Unlock()
}

func (r *fakeResource) fetchCount(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[target]
}

func (r *fakeResource) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// waitingResource adds task polling to fakeResource.
type waitingResource struct {
	*fakeResource
	waited  atomic.Int32
	waitErr error
}

func (r *waitingResource) WaitTask(ctx context.Context, task TaskHandle) error {
	r.waited.Add(1)
	return r.waitErr
}

type scheduledCall struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (c *scheduledCall) Stop() bool {
	return !c.stopped.Swap(true)
}

// manualScheduler records calls; FireAll runs them on the test goroutine.
type manualScheduler struct {
	mu    sync.Mutex
	calls []*scheduledCall
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &scheduledCall{delay: d, fn: f}
	m.calls = append(m.calls, c)
	return c
}

func (m *manualScheduler) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *manualScheduler) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ds []time.Duration
	for _, c := range m.calls {
		ds = append(ds, c.delay)
	}
	return ds
}

func (m *manualScheduler) FireAll() {
	m.mu.Lock()
	calls := m.calls
	m.mu.Unlock()
	for _, c := range calls {
		if !c.stopped.Load() {
			c.fn()
		}
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []TaskHandle
	errs  []error
}

func (n *recordingNotifier) TaskSubmitted(task TaskHandle) {
	n.mu.Lock()
	n.tasks = append(n.tasks, task)
	n.mu.Unlock()
}

func (n *recordingNotifier) Failed(err error) {
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
}

func (n *recordingNotifier) counts() (tasks, errs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tasks), len(n.errs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	res      *fakeResource
	sched    *manualScheduler
	notifier *recordingNotifier
	session  *Session
}

func newHarness(t *testing.T, initial Config) *harness {
	t.Helper()
	h := &harness{
		res:      newFakeResource(),
		sched:    &manualScheduler{},
		notifier: &recordingNotifier{},
	}
	h.res.set("movies", initial)

	opts := DefaultOptions()
	opts.Scope = "test"
	opts.Scheduler = h.sched
	opts.Notifier = h.notifier
	h.session = NewSession(query.NewClient(), h.res, "movies", opts)
	t.Cleanup(h.session.Close)

	if err := h.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	return h
}

func TestInitialState(t *testing.T) {
	res := newFakeResource()
	s := NewSession(query.NewClient(), res, "movies", DefaultOptions())
	defer s.Close()

	snap := s.Snapshot()
	if snap.State != Viewing {
		t.Errorf("State = %v, want viewing", snap.State)
	}
	if !snap.Displayed.IsEmpty() || !snap.Draft.IsEmpty() {
		t.Errorf("Displayed = %v, Draft = %v; want both empty before the first fetch", snap.Displayed, snap.Draft)
	}
	if snap.Pending {
		t.Error("Pending should be false before any fetch")
	}
	if res.fetchCount("movies") != 0 {
		t.Error("NewSession must not fetch")
	}
}

func TestRefreshPopulatesDisplayedAndDraft(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	if !s.Displayed().Equal(Config{"a": 1.0}) {
		t.Errorf("Displayed() = %v", s.Displayed())
	}
	if !s.Draft().Equal(s.Displayed()) {
		t.Errorf("Draft() = %v, want it to equal Displayed()", s.Draft())
	}
	if s.Pending() {
		t.Error("Pending() should be false after Refresh returns")
	}
}

func TestBeginEdit(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	s.BeginEdit()
	if s.State() != Editing {
		t.Fatalf("State() = %v, want editing", s.State())
	}
	if !s.Draft().Equal(Config{"a": 1.0}) {
		t.Errorf("Draft() = %v, want seeded from displayed", s.Draft())
	}
	if h.res.updateCount() != 0 || h.res.fetchCount("movies") != 1 {
		t.Error("BeginEdit must not call the remote resource")
	}

	if err := s.UpdateDraft(`{"a": 2}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	s.BeginEdit()
	if !s.Draft().Equal(Config{"a": 2.0}) {
		t.Errorf("BeginEdit while editing reset the draft to %v", s.Draft())
	}
}

func TestCancelEditIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 5}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}

	s.CancelEdit()
	once := s.Snapshot()
	s.CancelEdit()
	twice := s.Snapshot()

	for i, snap := range []Snapshot{once, twice} {
		if snap.State != Viewing {
			t.Errorf("cancel %d: State = %v, want viewing", i+1, snap.State)
		}
		if !snap.Draft.Equal(snap.Displayed) {
			t.Errorf("cancel %d: Draft = %v, want %v", i+1, snap.Draft, snap.Displayed)
		}
	}
	if !once.Draft.Equal(twice.Draft) || once.State != twice.State {
		t.Error("second CancelEdit changed the state")
	}
}

func TestBeginCancelRoundTrip(t *testing.T) {
	h := newHarness(t, Config{
		"rankingRules":     []any{"words", "typo"},
		"searchableAttrs":  []any{"title"},
		"typoTolerance":    map[string]any{"enabled": true},
		"maxTotalHits":     1000.0,
		"distinctAttr":     nil,
		"displayedAttribs": []any{"*"},
	})
	s := h.session

	beforeDisplayed := s.Render(s.Displayed())
	beforeDraft := s.Text()

	s.BeginEdit()
	s.CancelEdit()

	if got := s.Render(s.Displayed()); got != beforeDisplayed {
		t.Errorf("displayed text changed:\n%s\nwant\n%s", got, beforeDisplayed)
	}
	if got := s.Text(); got != beforeDraft {
		t.Errorf("draft text changed:\n%s\nwant\n%s", got, beforeDraft)
	}
}

func TestDraftIsolationUnderBackgroundRefresh(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 9}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}

	h.res.set("movies", Config{"a": 2.0, "b": true})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}

	if !s.Displayed().Equal(Config{"a": 2.0, "b": true}) {
		t.Errorf("Displayed() = %v, want the refreshed settings", s.Displayed())
	}
	if !s.Draft().Equal(Config{"a": 9.0}) {
		t.Errorf("Draft() = %v, want the in-progress edit", s.Draft())
	}
	if s.State() != Editing {
		t.Errorf("State() = %v, want editing", s.State())
	}

	s.CancelEdit()
	if !s.Draft().Equal(Config{"a": 2.0, "b": true}) {
		t.Errorf("after cancel Draft() = %v, want refreshed displayed", s.Draft())
	}
}

func TestUpdateDraftRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated object", `{bad json`},
		{"array", `[1, 2]`},
		{"scalar", `42`},
		{"null", `null`},
		{"whitespace", "  \n\t"},
		{"trailing garbage", `{"a": 1} x`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{"a": 1.0})
			s := h.session
			s.BeginEdit()

			err := s.UpdateDraft(tt.raw)
			var malformed *errors.MalformedInputError
			if !errors.As(err, &malformed) {
				t.Fatalf("UpdateDraft(%q) = %v, want MalformedInputError", tt.raw, err)
			}
			if !errors.Is(err, errors.ErrMalformedInput) {
				t.Error("error should match ErrMalformedInput")
			}
			if !s.Draft().Equal(Config{"a": 1.0}) {
				t.Errorf("Draft() = %v, want unchanged", s.Draft())
			}
			if s.State() != Editing {
				t.Errorf("State() = %v, want editing", s.State())
			}
		})
	}
}

func TestUpdateDraftRequiresEditing(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})

	err := h.session.UpdateDraft(`{"a": 2}`)
	if !errors.Is(err, errors.ErrNotEditing) {
		t.Errorf("UpdateDraft() outside editing = %v, want ErrNotEditing", err)
	}
	if !h.session.Draft().Equal(Config{"a": 1.0}) {
		t.Error("draft changed outside editing")
	}
}

func TestSaveTransitionsEagerly(t *testing.T) {
	h := newHarness(t, Config{"x": 1.0})
	s := h.session
	gate := make(chan struct{})
	h.res.mu.Lock()
	h.res.updateGate = gate
	h.res.mu.Unlock()

	s.BeginEdit()
	if err := s.UpdateDraft(`{"x": 2}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	snap := s.Snapshot()
	if snap.State != Viewing {
		t.Errorf("State = %v right after Save, want viewing", snap.State)
	}
	if !snap.Saving || !snap.Pending {
		t.Errorf("Saving = %v, Pending = %v; want both true while the update is in flight", snap.Saving, snap.Pending)
	}
	if !snap.Draft.Equal(snap.Displayed) {
		t.Errorf("Draft = %v, want displayed %v once viewing", snap.Draft, snap.Displayed)
	}
	if h.sched.Len() != 0 {
		t.Fatal("refetch scheduled before the update resolved")
	}

	close(gate)
	waitFor(t, "update to settle", func() bool { return !s.Saving() })

	if got := h.sched.Delays(); len(got) != 1 || got[0] != DefaultRefetchDelay {
		t.Fatalf("scheduled delays = %v, want exactly one of %v", got, DefaultRefetchDelay)
	}
	if tasks, errs := h.notifier.counts(); tasks != 1 || errs != 0 {
		t.Errorf("notifier got %d tasks, %d errors; want 1, 0", tasks, errs)
	}
	if task := s.Snapshot().LastTask; task == nil || task.UID != 1 {
		t.Errorf("LastTask = %v, want task 1", task)
	}

	before := h.res.fetchCount("movies")
	h.sched.FireAll()
	if got := h.res.fetchCount("movies") - before; got != 1 {
		t.Errorf("refetches after delay = %d, want 1", got)
	}
	if !s.Displayed().Equal(Config{"x": 2.0}) {
		t.Errorf("Displayed() = %v after refetch, want saved settings", s.Displayed())
	}
	if !s.Draft().Equal(Config{"x": 2.0}) {
		t.Errorf("Draft() = %v after refetch, want saved settings", s.Draft())
	}
	if h.sched.Len() != 1 {
		t.Errorf("scheduler holds %d calls, want 1", h.sched.Len())
	}
}

func TestSaveEmptyDraftIsNoop(t *testing.T) {
	for _, initial := range []Config{nil, {}} {
		h := newHarness(t, initial)
		s := h.session

		s.BeginEdit()
		if err := s.Save(context.Background()); err != nil {
			t.Fatalf("Save() with empty draft = %v, want nil", err)
		}

		if h.res.updateCount() != 0 {
			t.Error("Save() with empty draft called the remote resource")
		}
		snap := s.Snapshot()
		if snap.Pending || snap.Saving {
			t.Errorf("Pending = %v, Saving = %v; want false", snap.Pending, snap.Saving)
		}
		if snap.State != Editing {
			t.Errorf("State = %v, want editing (unchanged)", snap.State)
		}
		if h.sched.Len() != 0 {
			t.Error("Save() with empty draft scheduled a refetch")
		}
	}
}

func TestSaveRequiresEditing(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	if err := h.session.Save(context.Background()); !errors.Is(err, errors.ErrNotEditing) {
		t.Errorf("Save() outside editing = %v, want ErrNotEditing", err)
	}
	if h.res.updateCount() != 0 {
		t.Error("Save() outside editing called the remote resource")
	}
}

func TestSaveFailure(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session
	h.res.mu.Lock()
	h.res.updateErr = errors.NewAPIError(400, "Invalid ranking rule").WithCode("invalid_settings_ranking_rules", "invalid_request", "")
	h.res.mu.Unlock()

	s.BeginEdit()
	if err := s.UpdateDraft(`{"rankingRules": ["nope"]}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)

	var saveErr *errors.SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("Wait() = %v, want SaveError", err)
	}
	if saveErr.Key != "movies" {
		t.Errorf("SaveError.Key = %q, want movies", saveErr.Key)
	}
	if tasks, errs := h.notifier.counts(); tasks != 0 || errs != 1 {
		t.Errorf("notifier got %d tasks, %d errors; want 0, 1", tasks, errs)
	}
	if s.State() != Viewing {
		t.Errorf("State() = %v, want viewing (no rollback)", s.State())
	}
	if !s.Displayed().Equal(Config{"a": 1.0}) {
		t.Errorf("Displayed() = %v, want last confirmed", s.Displayed())
	}
	if h.sched.Len() != 0 {
		t.Error("failed save scheduled a refetch")
	}

	time.Sleep(20 * time.Millisecond)
	if h.res.updateCount() != 1 {
		t.Errorf("update called %d times, want 1 (no retry)", h.res.updateCount())
	}
}

func TestFetchErrorKeepsEdits(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 3}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}

	h.res.mu.Lock()
	h.res.fetchErr = errors.NewAPIError(503, "unavailable")
	h.res.mu.Unlock()

	err := s.Refresh(context.Background())
	var fetchErr *errors.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Refresh() = %v, want FetchError", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("a 503 fetch failure should be retryable")
	}

	if s.FetchErr() == nil {
		t.Error("FetchErr() should be recorded")
	}
	if s.State() != Editing {
		t.Errorf("State() = %v, want editing", s.State())
	}
	if !s.Draft().Equal(Config{"a": 3.0}) {
		t.Errorf("Draft() = %v, want unchanged", s.Draft())
	}
	if !s.Displayed().Equal(Config{"a": 1.0}) {
		t.Errorf("Displayed() = %v, want last known", s.Displayed())
	}

	h.res.mu.Lock()
	h.res.fetchErr = nil
	h.res.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	if s.FetchErr() != nil {
		t.Errorf("FetchErr() = %v after a good fetch, want nil", s.FetchErr())
	}
}

func TestSetTargetIgnoresStaleFetch(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session
	h.res.set("books", Config{"b": 1.0})

	gate := make(chan struct{})
	h.res.mu.Lock()
	h.res.fetchGates["movies"] = gate
	h.res.configs["movies"] = Config{"a": "stale"}
	h.res.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	waitFor(t, "refresh in flight", func() bool { return s.Snapshot().Pending })

	s.BeginEdit()
	s.SetTarget("books")
	if s.State() != Viewing {
		t.Error("SetTarget should discard the draft")
	}
	waitFor(t, "new target fetched", func() bool { return !s.Displayed().IsEmpty() })

	close(gate)
	if err := <-done; err != nil {
		t.Errorf("stale Refresh() = %v", err)
	}

	if s.Target() != "books" {
		t.Errorf("Target() = %q, want books", s.Target())
	}
	if !s.Displayed().Equal(Config{"b": 1.0}) {
		t.Errorf("Displayed() = %v, want books settings", s.Displayed())
	}
}

func TestSaveWithTaskPolling(t *testing.T) {
	res := &waitingResource{fakeResource: newFakeResource()}
	res.set("movies", Config{"a": 1.0})
	sched := &manualScheduler{}

	opts := DefaultOptions()
	opts.PollTasks = true
	opts.Scheduler = sched
	s := NewSession(query.NewClient(), res, "movies", opts)
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 2}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	if res.waited.Load() != 1 {
		t.Errorf("WaitTask called %d times, want 1", res.waited.Load())
	}
	if sched.Len() != 0 {
		t.Error("polling should replace the fixed delay")
	}
	if !s.Displayed().Equal(Config{"a": 2.0}) {
		t.Errorf("Displayed() = %v, want saved settings", s.Displayed())
	}
}

func TestWaitWithSystemScheduler(t *testing.T) {
	res := newFakeResource()
	res.set("movies", Config{"a": 1.0})
	opts := DefaultOptions()
	opts.RefetchDelay = 5 * time.Millisecond
	s := NewSession(query.NewClient(), res, "movies", opts)
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 7}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := res.fetchCount("movies"); got != 2 {
		t.Errorf("fetches = %d, want 2 (initial + post-save)", got)
	}
	if !s.Displayed().Equal(Config{"a": 7.0}) {
		t.Errorf("Displayed() = %v", s.Displayed())
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, Config{"a": 1.0})
	s := h.session

	var mu sync.Mutex
	var states []State
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})

	s.BeginEdit()
	s.CancelEdit()
	cancel()
	s.BeginEdit()

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != Editing || states[1] != Viewing {
		t.Errorf("notified states = %v, want [editing viewing]", states)
	}
}

func TestYAMLSession(t *testing.T) {
	res := newFakeResource()
	res.set("movies", Config{"searchableAttributes": []any{"title"}})
	opts := DefaultOptions()
	opts.Codec = YAML
	s := NewSession(query.NewClient(), res, "movies", opts)
	defer s.Close()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}

	want := "searchableAttributes:\n  - title\n"
	if got := s.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	s.BeginEdit()
	if err := s.UpdateDraft("searchableAttributes:\n  - title\n  - overview\n"); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if !s.Draft().Equal(Config{"searchableAttributes": []any{"title", "overview"}}) {
		t.Errorf("Draft() = %v", s.Draft())
	}
}

func TestCachedTargetShownImmediately(t *testing.T) {
	client := query.NewClient()
	res := newFakeResource()
	res.set("movies", Config{"a": 1.0})

	first := NewSession(client, res, "movies", DefaultOptions())
	if err := first.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}
	first.Close()

	second := NewSession(client, res, "movies", DefaultOptions())
	defer second.Close()
	if !second.Displayed().Equal(Config{"a": 1.0}) {
		t.Errorf("Displayed() = %v, want cached settings", second.Displayed())
	}
}

func TestOutOfOrderQueryStatesIgnored(t *testing.T) {
	h := newHarness(t, Config{"v": 0.0})
	base := h.session.query.State()

	newer := base
	newer.Seq, newer.Version = base.Seq+2, base.Version+2
	newer.Data, newer.HasData = Config{"v": 2.0}, true
	newer.IsFetching, newer.IsLoading = false, false

	older := base
	older.Seq, older.Version = base.Seq+1, base.Version+1
	older.Data, older.HasData = Config{"v": 1.0}, true
	older.IsFetching = true

	h.session.onQuery(newer)
	h.session.onQuery(older)

	if got := h.session.Displayed(); !got.Equal(Config{"v": 2.0}) {
		t.Errorf("Displayed() = %v, want v=2", got)
	}
	if got := h.session.Draft(); !got.Equal(Config{"v": 2.0}) {
		t.Errorf("Draft() = %v, want v=2", got)
	}
	if h.session.Pending() {
		t.Error("Pending() = true after the newest state reported no fetch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.session.Wait(ctx); err != nil {
		t.Errorf("Wait() = %v", err)
	}

	// A newer failure carries the old data version and must not roll it back.
	failed := newer
	failed.Seq = newer.Seq + 1
	failed.Version = base.Version
	failed.Data = Config{"v": 0.0}
	failed.Err = errors.New("boom")
	h.session.onQuery(failed)

	if got := h.session.Displayed(); !got.Equal(Config{"v": 2.0}) {
		t.Errorf("Displayed() after failure = %v, want v=2", got)
	}
	if h.session.FetchErr() == nil {
		t.Error("FetchErr() = nil, want the failure recorded")
	}
}

// blockingResource holds every task wait open until its context ends.
type blockingResource struct {
	*fakeResource
	started  chan struct{}
	returned chan error
}

func (r *blockingResource) WaitTask(ctx context.Context, task TaskHandle) error {
	close(r.started)
	<-ctx.Done()
	r.returned <- ctx.Err()
	return ctx.Err()
}

func TestCloseAbandonsTaskPolling(t *testing.T) {
	res := &blockingResource{
		fakeResource: newFakeResource(),
		started:      make(chan struct{}),
		returned:     make(chan error, 1),
	}
	res.set("movies", Config{"a": 1.0})
	notifier := &recordingNotifier{}

	opts := DefaultOptions()
	opts.PollTasks = true
	opts.Scheduler = &manualScheduler{}
	opts.Notifier = notifier
	s := NewSession(query.NewClient(), res, "movies", opts)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() = %v", err)
	}

	s.BeginEdit()
	if err := s.UpdateDraft(`{"a": 2}`); err != nil {
		t.Fatalf("UpdateDraft() = %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	select {
	case <-res.started:
	case <-time.After(2 * time.Second):
		t.Fatal("task wait never started")
	}
	waitFor(t, "save to settle", func() bool { return !s.mutation.IsPending() })

	waitDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		waitDone <- s.Wait(ctx)
	}()

	s.Close()

	select {
	case err := <-res.returned:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WaitTask context error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task wait still running after Close")
	}
	if err := <-waitDone; err != nil {
		t.Errorf("Wait() = %v, want nil after Close", err)
	}
	if _, errs := notifier.counts(); errs != 0 {
		t.Errorf("failure notifications = %d, want 0 for an abandoned wait", errs)
	}
	if got := res.fetchCount("movies"); got != 1 {
		t.Errorf("fetches = %d, want 1 (no refetch after Close)", got)
	}
}
