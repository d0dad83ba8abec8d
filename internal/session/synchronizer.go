package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/intelliexo/intelliexo-backend/internal/agent"
	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
	"github.com/intelliexo/intelliexo-backend/internal/projects/repository"
)

var (
	ErrTurnInFlight       = errors.New("a turn is already in flight")
	ErrEmptyInput         = errors.New("message is empty")
	ErrNoActiveProject    = errors.New("no active project")
	ErrIdentityNotPresent = errors.New("identity not present")
	ErrInvalidSuggestion  = errors.New("unknown suggested prompt")
	ErrClosed             = errors.New("session closed")
	ErrRateLimited        = errors.New("too many messages, slow down")
)

// Agent turns an utterance plus context into an assistant reply.
type Agent interface {
	Send(ctx context.Context, utterance string, convCtx agent.Context) (string, error)
}

// Option configures a Synchronizer at construction.
type Option func(*Synchronizer)

// WithHistoryLimit caps the chat snapshot subscription.
func WithHistoryLimit(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithPersistTurns writes settled turns back to the store.
func WithPersistTurns(on bool) Option {
	return func(s *Synchronizer) { s.persistTurns = on }
}

// WithMetrics records turn outcomes on m instead of unregistered collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithClock sets the time source for entry timestamps, notices and the submit limiter.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithIDGenerator sets how optimistic entry ids are made. Defaults to uuid.
func WithIDGenerator(newID func() string) Option {
	return func(s *Synchronizer) { s.newID = newID }
}

// WithSubmitLimit allows burst turns at once and then r turns per second.
// Rejected submits return ErrRateLimited and leave the view untouched.
func WithSubmitLimit(r rate.Limit, burst int) Option {
	return func(s *Synchronizer) {
		if r > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(r, burst)
		}
	}
}

// WithIdentity is applied by Run before any other operation, so no caller can
// observe the session with the unresolved default.
func WithIdentity(id auth.Identity) Option {
	return func(s *Synchronizer) { s.initialIdentity = id }
}

// Synchronizer owns one chat session: it follows the identity signal and the
// active project, keeps the store subscriptions for them, drives agent turns
// and merges the optimistic queue with the latest snapshot into a View.
//
// All state changes run on the goroutine executing Run. Public methods hand
// work to that loop and wait for it; store callbacks and agent results are
// posted to it. Work tied to a project carries the epoch it started in and is
// dropped if the epoch has moved on.
type Synchronizer struct {
	store   repository.SnapshotStore
	agent   Agent
	logger  *zap.Logger
	metrics *Metrics

	historyLimit    int
	persistTurns    bool
	initialIdentity auth.Identity
	limiter         *rate.Limiter
	now             func() time.Time
	newID           func() string

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	ctx         context.Context
	identity    auth.Identity
	identityGen uint64
	projectsSub repository.Subscription
	projects    []domain.Project
	epoch       uint64
	active      *domain.Project
	messagesSub repository.Subscription
	snapshot    []domain.MessageEntry
	files       []domain.FileRef
	queue       *Queue
	turnCancel  context.CancelFunc
	notice      *Notice
	watchers    map[int]chan View
	nextWatcher int
}

func New(store repository.SnapshotStore, agentClient Agent, logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		store:        store,
		agent:        agentClient,
		logger:       logger,
		historyLimit: repository.DefaultMessageLimit,
		now:          time.Now,
		newID:        uuid.NewString,
		ops:          make(chan func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		watchers:     make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.queue = NewQueue(s.newID, s.now)
	return s
}

// Run processes session events until ctx ends or Close is called, then
// cancels every subscription and the outstanding turn. Call it once.
func (s *Synchronizer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	defer close(s.done)
	defer s.teardown()

	s.setIdentity(s.initialIdentity)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		case op := <-s.ops:
			op()
		}
	}
}

// Close stops Run. It does not wait; use Done for that.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

// Done is closed after Run has torn the session down.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// SetIdentity applies the signed-in state. Nothing is subscribed until the
// identity is present; a change of user or a sign-out returns to Idle.
func (s *Synchronizer) SetIdentity(ctx context.Context, id auth.Identity) error {
	return s.do(ctx, func() { s.setIdentity(id) })
}

// SelectProject activates one of the identity's projects. Selecting the
// active project again is a no-op.
func (s *Synchronizer) SelectProject(ctx context.Context, projectID string) error {
	return s.call(ctx, func() error { return s.selectProject(projectID) })
}

// ClearProject deactivates the current project, discarding any turn in flight.
func (s *Synchronizer) ClearProject(ctx context.Context) error {
	return s.do(ctx, func() {
		s.deactivate()
		s.publish()
	})
}

// Submit starts a turn. It returns ErrTurnInFlight without side effects while
// another turn is outstanding, and ErrEmptyInput for blank text. The agent
// reply is applied asynchronously.
func (s *Synchronizer) Submit(ctx context.Context, text string) error {
	return s.call(ctx, func() error { return s.submit(text) })
}

// SubmitSuggested submits SuggestedPrompts[index].
func (s *Synchronizer) SubmitSuggested(ctx context.Context, index int) error {
	if index < 0 || index >= len(SuggestedPrompts) {
		return fmt.Errorf("%w: %d", ErrInvalidSuggestion, index)
	}
	return s.Submit(ctx, SuggestedPrompts[index])
}

// RefreshFiles re-reads the active project's files.
func (s *Synchronizer) RefreshFiles(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.active == nil {
			return ErrNoActiveProject
		}
		s.fetchFiles(s.epoch)
		return nil
	})
}

// View returns the current merged view.
func (s *Synchronizer) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.view() })
	return v, err
}

// Watch delivers the current view and then every change. Slow readers only
// see the latest view. The channel is closed by stop or when the session ends.
func (s *Synchronizer) Watch(ctx context.Context) (<-chan View, func(), error) {
	ch := make(chan View, 1)
	var id int
	err := s.do(ctx, func() {
		id = s.nextWatcher
		s.nextWatcher++
		s.watchers[id] = ch
		ch <- s.view()
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.post(func() {
				if w, ok := s.watchers[id]; ok {
					delete(s.watchers, id)
					close(w)
				}
			})
		})
	}
	return ch, stop, nil
}

// do runs fn on the loop and waits for it.
func (s *Synchronizer) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *Synchronizer) call(ctx context.Context, fn func() error) error {
	var err error
	if doErr := s.do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// post queues fn for the loop without waiting for it to run. It gives up
// once the session is closing. Store callbacks and agent goroutines use it,
// so it must never be called from the loop itself.
func (s *Synchronizer) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	case <-s.done:
	}
}

func (s *Synchronizer) setIdentity(id auth.Identity) {
	if id.Equal(s.identity) {
		return
	}
	s.logger.Info("identity changed", zap.Stringer("state", id.State()))

	s.deactivate()
	if s.projectsSub != nil {
		s.projectsSub.Cancel()
		s.projectsSub = nil
	}
	s.projects = nil
	s.identityGen++
	s.identity = id

	if uid, ok := id.UID(); ok {
		gen := s.identityGen
		s.projectsSub = s.store.SubscribeProjects(s.ctx, uid,
			func(ps []domain.Project) {
				s.post(func() {
					if gen == s.identityGen {
						s.onProjects(ps)
					}
				})
			},
			func(err error) {
				s.post(func() {
					if gen == s.identityGen {
						s.onSubscriptionError("projects", err)
					}
				})
			},
		)
	}
	s.publish()
}

func (s *Synchronizer) selectProject(projectID string) error {
	if !s.identity.IsPresent() {
		return ErrIdentityNotPresent
	}
	if s.active != nil && s.active.ID == projectID {
		return nil
	}
	p, ok := s.findProject(projectID)
	if !ok {
		return fmt.Errorf("project %q: %w", projectID, domain.ErrNotFound)
	}

	s.deactivate()
	s.activate(p)
	s.publish()
	return nil
}

func (s *Synchronizer) activate(p domain.Project) {
	s.epoch++
	epoch := s.epoch
	s.active = &p

	s.messagesSub = s.store.SubscribeMessages(s.ctx, p.ID, s.historyLimit,
		func(msgs []domain.MessageEntry) {
			s.post(func() {
				if epoch == s.epoch {
					s.onMessages(msgs)
				}
			})
		},
		func(err error) {
			s.post(func() {
				if epoch == s.epoch {
					s.onSubscriptionError("messages", err)
				}
			})
		},
	)
	s.fetchFiles(epoch)

	s.logger.Info("project activated", zap.String("project_id", p.ID), zap.Uint64("epoch", epoch))
}

// deactivate returns to Idle: the chat subscription is cancelled, an
// outstanding turn is abandoned and the view is cleared. Bumping the epoch
// makes every late callback of the old project a no-op.
func (s *Synchronizer) deactivate() {
	if s.active == nil {
		return
	}
	if s.messagesSub != nil {
		s.messagesSub.Cancel()
		s.messagesSub = nil
	}
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}

	s.logger.Info("project deactivated", zap.String("project_id", s.active.ID), zap.Uint64("epoch", s.epoch))

	s.queue.Reset()
	s.snapshot = nil
	s.files = nil
	s.notice = nil
	s.active = nil
	s.epoch++
}

func (s *Synchronizer) submit(text string) error {
	text = strings.TrimSpace(text)
	if s.active == nil {
		return ErrNoActiveProject
	}
	if text == "" {
		return ErrEmptyInput
	}
	if s.queue.IsLoading() {
		s.metrics.DuplicateSubmits.Inc()
		return ErrTurnInFlight
	}
	if s.limiter != nil && !s.limiter.AllowN(s.now(), 1) {
		s.metrics.RateLimited.Inc()
		return ErrRateLimited
	}

	prior := Merge(s.snapshot, s.queue.Entries())
	_, placeholder, _ := s.queue.BeginTurn(text)
	convCtx := agent.Context{
		PriorMessages: prior,
		Files:         append([]domain.FileRef(nil), s.files...),
	}

	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	s.notice = nil
	s.metrics.TurnsStarted.Inc()

	go s.callAgent(turnCtx, s.epoch, placeholder.ID, text, convCtx)

	s.publish()
	return nil
}

func (s *Synchronizer) callAgent(ctx context.Context, epoch uint64, placeholderID, text string, convCtx agent.Context) {
	start := time.Now()
	reply, err := s.agent.Send(ctx, text, convCtx)
	s.metrics.AgentLatency.Observe(time.Since(start).Seconds())

	s.post(func() { s.finishTurn(epoch, placeholderID, reply, err) })
}

// finishTurn is the single exit of Turn-In-Flight for a live epoch.
func (s *Synchronizer) finishTurn(epoch uint64, placeholderID, reply string, err error) {
	if epoch != s.epoch {
		s.metrics.StaleResponses.Inc()
		s.logger.Debug("dropping stale agent response",
			zap.Uint64("turn_epoch", epoch), zap.Uint64("epoch", s.epoch))
		return
	}
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}

	if err != nil {
		if s.queue.AbortTurn(placeholderID) {
			s.metrics.TurnsAborted.Inc()
		}
		s.logger.Warn("agent call failed", zap.String("project_id", s.active.ID), zap.Error(err))
		s.notice = s.newNotice(NoticeAgentUnavailable, "The assistant is unavailable right now. Please try again.")
		s.publish()
		return
	}

	user, assistant, ok := s.queue.SettleTurn(placeholderID, reply)
	if !ok {
		s.metrics.StaleResponses.Inc()
		return
	}
	s.metrics.TurnsSettled.Inc()
	if s.persistTurns {
		s.persist(epoch, s.active.ID, user, assistant)
	}
	s.publish()
}

func (s *Synchronizer) persist(epoch uint64, projectID string, entries ...domain.MessageEntry) {
	ctx := s.ctx
	go func() {
		err := s.store.AppendMessages(ctx, projectID, entries...)
		if err == nil {
			return
		}
		s.post(func() {
			s.logger.Warn("persist turn failed", zap.String("project_id", projectID), zap.Error(err))
			if epoch != s.epoch {
				return
			}
			s.notice = s.newNotice(NoticePersistFailed, "The last answer could not be saved.")
			s.publish()
		})
	}()
}

func (s *Synchronizer) fetchFiles(epoch uint64) {
	uid, _ := s.identity.UID()
	projectID := s.active.ID
	ctx := s.ctx

	go func() {
		files, err := s.store.FetchFiles(ctx, uid, projectID)
		s.post(func() {
			if epoch != s.epoch {
				return
			}
			if err != nil {
				s.logger.Warn("fetch files failed", zap.String("project_id", projectID), zap.Error(err))
				s.notice = s.newNotice(NoticeFilesUnavailable, "Project files could not be loaded.")
				s.publish()
				return
			}
			s.files = files
			s.publish()
		})
	}()
}

func (s *Synchronizer) onProjects(ps []domain.Project) {
	projects := append([]domain.Project(nil), ps...)
	sort.SliceStable(projects, func(i, j int) bool {
		if !projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
		}
		return projects[i].Name < projects[j].Name
	})
	s.projects = projects

	if s.active != nil {
		if p, ok := s.findProject(s.active.ID); ok {
			s.active = &p
		}
	}
	s.publish()
}

// onMessages replaces the cached snapshot wholesale; the optimistic pair is untouched.
func (s *Synchronizer) onMessages(msgs []domain.MessageEntry) {
	s.snapshot = append([]domain.MessageEntry(nil), msgs...)
	s.queue.Reconcile(s.snapshot)
	s.publish()
}

// onSubscriptionError keeps the last good data visible.
func (s *Synchronizer) onSubscriptionError(collection string, err error) {
	s.metrics.SubscriptionErrors.WithLabelValues(collection).Inc()
	s.logger.Warn("snapshot subscription failed", zap.String("collection", collection), zap.Error(err))
	s.notice = s.newNotice(NoticeSubscriptionError, "Live updates stopped. Showing the last known "+collection+".")
	s.publish()
}

func (s *Synchronizer) findProject(id string) (domain.Project, bool) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}

func (s *Synchronizer) newNotice(kind NoticeKind, msg string) *Notice {
	return &Notice{Kind: kind, Message: msg, At: s.now()}
}

func (s *Synchronizer) state() State {
	switch {
	case s.active == nil:
		return StateIdle
	case s.queue.IsLoading():
		return StateTurnInFlight
	default:
		return StateSubscribed
	}
}

func (s *Synchronizer) view() View {
	v := View{
		State:    s.state(),
		Identity: s.identity,
		Epoch:    s.epoch,
		Projects: append([]domain.Project{}, s.projects...),
		Files:    append([]domain.FileRef{}, s.files...),
		Messages: Merge(s.snapshot, s.queue.Entries()),
		Loading:  s.queue.IsLoading(),
	}
	if s.active != nil {
		p := *s.active
		v.Active = &p
		v.Suggested = append([]string(nil), SuggestedPrompts...)
	}
	if s.notice != nil {
		n := *s.notice
		v.Notice = &n
	}
	return v
}

// publish offers the latest view to every watcher, replacing an unread one.
func (s *Synchronizer) publish() {
	if len(s.watchers) == 0 {
		return
	}
	v := s.view()
	for _, ch := range s.watchers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (s *Synchronizer) teardown() {
	s.deactivate()
	if s.projectsSub != nil {
		s.projectsSub.Cancel()
		s.projectsSub = nil
	}
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}
