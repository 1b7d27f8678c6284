// Package settingsync keeps an editable copy of a remote settings resource in
// step with the service: view, edit locally, save, and refresh.
//
// A Session is in one of two states. In Viewing the draft always equals the
// displayed settings. In Editing the draft is the user's working copy and
// background fetches update only the displayed settings. Save hands the draft
// to the remote resource, returns to Viewing at once, and re-reads the
// settings after a delay once the service has accepted the change.
package settingsync

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/logging"
	"github.com/Iron-Ham/meilidash/internal/query"
)

// DefaultRefetchDelay is how long a Session waits after a save was accepted
// before reading the settings back.
const DefaultRefetchDelay = 450 * time.Millisecond

// State is the edit state of a Session.
type State int

const (
	// Viewing shows the last confirmed settings.
	Viewing State = iota
	// Editing holds a local draft.
	Editing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case Editing:
		return "editing"
	default:
		return "unknown"
	}
}

// Options configure a Session.
type Options struct {
	// Scope is prepended to the target in the cache key, typically the
	// service host, so sessions against different services never share data.
	Scope string
	Codec Codec
	// RefetchDelay is the wait between an accepted save and the refetch.
	// Zero refetches immediately.
	RefetchDelay time.Duration
	// PollTasks waits for the submitted task to finish before refetching,
	// when the resource implements TaskWaiter.
	PollTasks bool
	Scheduler Scheduler
	Notifier  Notifier
	Logger    *logging.Logger
}

// DefaultOptions returns Options with the JSON codec, the default delay and
// the system scheduler.
func DefaultOptions() Options {
	return Options{
		Codec:        JSON,
		RefetchDelay: DefaultRefetchDelay,
		Scheduler:    SystemScheduler,
	}
}

// Snapshot is a consistent copy of a Session's observable state. Its
// configs are shared with the session and must not be modified.
type Snapshot struct {
	Target  string
	State   State
	Saving  bool
	Loading bool
	Pending bool

	Displayed Config
	Draft     Config

	FetchErr error
	SaveErr  error
	LastTask *TaskHandle

	UpdatedAt time.Time
}

type saveRequest struct {
	Target string
	Config Config
}

// Session synchronizes one settings resource at a time. All methods are safe
// for concurrent use; listeners run outside the session lock.
type Session struct {
	resource  Resource
	query     *query.Query[Config]
	mutation  *query.Mutation[saveRequest, TaskHandle]
	scope     string
	codec     Codec
	delay     time.Duration
	poll      bool
	scheduler Scheduler
	notifier  Notifier
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	mu        sync.Mutex
	target    string
	displayed Config
	draft     Config
	editing   bool
	loading   bool
	fetching  bool
	fetchErr  error
	fetchRaw  error
	saveErr   error
	lastTask  *TaskHandle
	updatedAt time.Time
	applied   uint64
	seq       uint64
	scheduled int
	timers    []Timer
	closed    bool

	listeners map[int]func(Snapshot)
	nextID    int
	unsubs    []func()
}

// NewSession creates a Session for target. Nothing is fetched until Refresh
// or RefreshAsync is called, unless client already holds cached settings.
func NewSession(client *query.Client, resource Resource, target string, opts Options) *Session {
	if opts.Codec == nil {
		opts.Codec = JSON
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		resource:  resource,
		scope:     opts.Scope,
		codec:     opts.Codec,
		delay:     opts.RefetchDelay,
		poll:      opts.PollTasks,
		scheduler: opts.Scheduler,
		notifier:  opts.Notifier,
		logger:    opts.Logger.WithComponent("settingsync"),
		ctx:       ctx,
		cancel:    cancel,
		target:    target,
		listeners: make(map[int]func(Snapshot)),
	}

	s.query = query.New(client, s.keyFor(target), func(ctx context.Context, key query.Key) (Config, error) {
		return resource.FetchConfig(ctx, key[len(key)-1])
	})
	s.mutation = query.NewMutation(func(ctx context.Context, req saveRequest) (TaskHandle, error) {
		return resource.UpdateConfig(ctx, req.Target, req.Config)
	}, query.MutationOptions[saveRequest, TaskHandle]{
		OnSuccess: s.onSaved,
		OnError:   s.onSaveFailed,
	})

	s.applyQueryState(s.query.State())
	s.unsubs = append(s.unsubs,
		s.query.Subscribe(s.onQuery),
		s.mutation.Subscribe(func(bool) { s.emit() }),
	)
	return s
}

func (s *Session) keyFor(target string) query.Key {
	return query.Key{"settings", s.scope, target}
}

// Subscribe registers fn to be called after every state change.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	saving := s.mutation.IsPending()
	state := Viewing
	if s.editing {
		state = Editing
	}
	return Snapshot{
		Target:    s.target,
		State:     state,
		Saving:    saving,
		Loading:   s.loading,
		Pending:   s.loading || s.fetching || saving,
		Displayed: s.displayed,
		Draft:     s.draft,
		FetchErr:  s.fetchErr,
		SaveErr:   s.saveErr,
		LastTask:  s.lastTask,
		UpdatedAt: s.updatedAt,
	}
}

// State returns Viewing or Editing.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		return Editing
	}
	return Viewing
}

// Saving reports whether an update is in flight.
func (s *Session) Saving() bool {
	return s.mutation.IsPending()
}

// Pending reports whether a fetch or a save is in flight.
func (s *Session) Pending() bool {
	return s.Snapshot().Pending
}

// Target returns the resource the session is synchronizing.
func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Displayed returns a copy of the last confirmed settings.
func (s *Session) Displayed() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed.Clone()
}

// Draft returns a copy of the working settings.
func (s *Session) Draft() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// FetchErr returns the error of the most recent fetch, or nil.
func (s *Session) FetchErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErr
}

// Codec returns the codec used by Text and UpdateDraft.
func (s *Session) Codec() Codec {
	return s.codec
}

// Text returns the canonical serialization of the draft, the text an editor
// should show.
func (s *Session) Text() string {
	return s.Render(s.Draft())
}

// Render serializes cfg with the session codec.
func (s *Session) Render(cfg Config) string {
	data, err := s.codec.Marshal(cfg)
	if err != nil {
		s.logger.Warn("failed to render settings", "error", err.Error())
		return ""
	}
	return string(data)
}

// BeginEdit enters Editing with the draft seeded from the displayed
// settings. It does nothing when already editing.
func (s *Session) BeginEdit() {
	s.mu.Lock()
	if s.editing {
		s.mu.Unlock()
		return
	}
	s.editing = true
	s.draft = s.displayed
	s.mu.Unlock()

	s.logger.Debug("edit started", "target", s.Target())
	s.emit()
}

// UpdateDraft parses raw and makes it the draft. Text that does not parse
// into an object leaves the draft unchanged and returns a
// *errors.MalformedInputError.
func (s *Session) UpdateDraft(raw string) error {
	if s.State() != Editing {
		return errors.ErrNotEditing
	}

	cfg, err := s.codec.Unmarshal([]byte(raw))
	if err != nil {
		s.logger.Debug("draft rejected", "error", err.Error())
		return err
	}

	s.mu.Lock()
	if !s.editing {
		s.mu.Unlock()
		return errors.ErrNotEditing
	}
	s.draft = cfg
	s.mu.Unlock()

	s.emit()
	return nil
}

// CancelEdit discards the draft and returns to Viewing. Calling it again, or
// outside Editing, changes nothing.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	if !s.editing {
		s.mu.Unlock()
		return
	}
	s.editing = false
	s.draft = s.displayed
	s.mu.Unlock()

	s.logger.Debug("edit cancelled", "target", s.Target())
	s.emit()
}

// Save submits the draft. It returns before the remote call completes:
// the session is back in Viewing, showing the displayed settings, when Save
// returns. Once the service accepts the update the notifier is told about
// the task and one refetch is scheduled. An empty draft is not submitted.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if !s.editing {
		s.mu.Unlock()
		return errors.ErrNotEditing
	}
	if s.draft.IsEmpty() {
		s.mu.Unlock()
		return nil
	}

	req := saveRequest{Target: s.target, Config: s.draft}
	s.editing = false
	s.draft = s.displayed
	s.saveErr = nil
	s.mutation.Mutate(ctx, req)
	s.mu.Unlock()

	s.logger.Info("settings update submitted", "target", req.Target, "keys", len(req.Config))
	s.emit()
	return nil
}

func (s *Session) onSaved(task TaskHandle, req saveRequest) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastTask = &task
	s.scheduled++
	s.mu.Unlock()

	s.logger.Info("settings update enqueued",
		"target", req.Target,
		"task_uid", task.UID,
		"status", task.Status,
	)
	s.notifier.TaskSubmitted(task)

	if waiter, ok := s.resource.(TaskWaiter); ok && s.poll {
		go s.waitAndRefetch(waiter, task, req.Target)
		return
	}

	timer := s.scheduler.AfterFunc(s.delay, s.scheduledRefetch)
	s.mu.Lock()
	s.timers = append(s.timers, timer)
	s.mu.Unlock()
}

func (s *Session) onSaveFailed(err error, req saveRequest) {
	saveErr := errors.NewSaveError(req.Target, err)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.saveErr = saveErr
	}
	s.mu.Unlock()
	if closed {
		return
	}

	s.logger.Error("settings update failed", "target", req.Target, "error", err.Error())
	s.notifier.Failed(saveErr)
}

func (s *Session) waitAndRefetch(waiter TaskWaiter, task TaskHandle, target string) {
	if err := waiter.WaitTask(s.ctx, task); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		saveErr := errors.NewSaveError(target, err)
		s.mu.Lock()
		s.saveErr = saveErr
		s.mu.Unlock()
		s.logger.Warn("settings task did not succeed", "task_uid", task.UID, "error", err.Error())
		s.notifier.Failed(saveErr)
	}
	s.scheduledRefetch()
}

func (s *Session) scheduledRefetch() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.query.Refetch(s.ctx); err != nil {
		s.logger.Warn("refetch after save failed", "error", err.Error())
	}

	s.mu.Lock()
	if s.scheduled > 0 {
		s.scheduled--
	}
	s.mu.Unlock()
	s.emit()
}

// Refresh re-reads the settings and waits for the result. A failure is also
// recorded as the session's FetchErr; the displayed settings and any draft
// are kept.
func (s *Session) Refresh(ctx context.Context) error {
	key := s.query.Key()
	if err := s.query.Refetch(ctx); err != nil {
		return errors.NewFetchError(key.String(), err)
	}
	return nil
}

// RefreshAsync starts a refresh in the background.
func (s *Session) RefreshAsync() {
	s.query.RefetchAsync()
}

// SetTarget switches the session to another resource. Any draft is
// discarded and the new target is fetched in the background. Results still
// arriving for the previous target are ignored.
func (s *Session) SetTarget(target string) {
	s.mu.Lock()
	if target == s.target {
		s.mu.Unlock()
		return
	}
	s.target = target
	s.editing = false
	s.displayed = nil
	s.draft = nil
	s.loading = false
	s.fetching = false
	s.fetchErr = nil
	s.fetchRaw = nil
	s.saveErr = nil
	s.lastTask = nil
	s.updatedAt = time.Time{}
	s.mu.Unlock()

	s.logger.Info("target changed", "target", target)
	s.emit()
	s.query.SetKey(s.keyFor(target))
}

func (s *Session) onQuery(st query.State[Config]) {
	if s.applyQueryState(st) {
		s.emit()
	}
}

// applyQueryState folds a query update into the session. It reports false
// when the update belongs to a previous target or is older than one already
// applied.
func (s *Session) applyQueryState(st query.State[Config]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !st.Key.Equal(s.keyFor(s.target)) || st.Seq <= s.seq {
		return false
	}
	s.seq = st.Seq

	if st.HasData && st.Version > s.applied {
		s.applied = st.Version
		s.displayed = st.Data
		if !s.editing {
			s.draft = st.Data
		}
		s.updatedAt = st.UpdatedAt
	}

	switch {
	case st.Err == nil:
		s.fetchErr, s.fetchRaw = nil, nil
	case st.Err != s.fetchRaw:
		s.fetchRaw = st.Err
		s.fetchErr = errors.NewFetchError(st.Key.String(), st.Err)
	}

	s.loading = st.IsLoading
	s.fetching = st.IsFetching
	return true
}

// Wait blocks until no save, scheduled refetch or fetch is outstanding and
// returns the error of the last save, if it failed.
func (s *Session) Wait(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	cancel := s.Subscribe(func(Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		s.mu.Lock()
		idle := !s.mutation.IsPending() && s.scheduled == 0 && !s.fetching
		err := s.saveErr
		s.mu.Unlock()
		if idle {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close stops scheduled refetches, abandons task polling and detaches the
// session from its query. A save already in flight still completes on the
// server.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.scheduled = 0
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.cancel()
	for _, fn := range unsubs {
		fn()
	}
	s.emit()
}

func (s *Session) emit() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
