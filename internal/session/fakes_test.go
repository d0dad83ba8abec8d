package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/intelliexo/intelliexo-backend/internal/agent"
	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
	"github.com/intelliexo/intelliexo-backend/internal/projects/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSub struct {
	once sync.Once
	done chan struct{}
}

func newFakeSub() *fakeSub { return &fakeSub{done: make(chan struct{})} }

func (s *fakeSub) Cancel() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type projectsSub struct {
	*fakeSub
	ownerID string
	onEvent repository.ProjectsFunc
	onError repository.ErrorFunc
}

type messagesSub struct {
	*fakeSub
	projectID string
	limit     int
	onEvent   repository.MessagesFunc
	onError   repository.ErrorFunc
}

// fakeStore hands events to the session only when a test emits them.
type fakeStore struct {
	mu          sync.Mutex
	projectSubs []*projectsSub
	messageSubs []*messagesSub
	files       map[string][]domain.FileRef
	filesErr    error
	fileFetches int
	appended    []domain.MessageEntry
	appendErr   error
}

var _ repository.SnapshotStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[string][]domain.FileRef)}
}

func (f *fakeStore) SubscribeProjects(_ context.Context, ownerID string, onEvent repository.ProjectsFunc, onError repository.ErrorFunc) repository.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &projectsSub{fakeSub: newFakeSub(), ownerID: ownerID, onEvent: onEvent, onError: onError}
	f.projectSubs = append(f.projectSubs, sub)
	return sub
}

func (f *fakeStore) SubscribeMessages(_ context.Context, projectID string, limit int, onEvent repository.MessagesFunc, onError repository.ErrorFunc) repository.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &messagesSub{fakeSub: newFakeSub(), projectID: projectID, limit: limit, onEvent: onEvent, onError: onError}
	f.messageSubs = append(f.messageSubs, sub)
	return sub
}

func (f *fakeStore) FetchFiles(_ context.Context, _, projectID string) ([]domain.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileFetches++
	if f.filesErr != nil {
		return nil, f.filesErr
	}
	return append([]domain.FileRef(nil), f.files[projectID]...), nil
}

func (f *fakeStore) AppendMessages(_ context.Context, _ string, entries ...domain.MessageEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, entries...)
	return nil
}

func (f *fakeStore) setFiles(projectID string, files []domain.FileRef, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[projectID] = files
	f.filesErr = err
}

func (f *fakeStore) appendedEntries() []domain.MessageEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageEntry(nil), f.appended...)
}

func (f *fakeStore) projectsSubs() []*projectsSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*projectsSub(nil), f.projectSubs...)
}

func (f *fakeStore) messagesSubs() []*messagesSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*messagesSub(nil), f.messageSubs...)
}

func (f *fakeStore) liveProjectsSub(t *testing.T, ownerID string) *projectsSub {
	t.Helper()
	for _, s := range f.projectsSubs() {
		if s.ownerID == ownerID && !s.cancelled() {
			return s
		}
	}
	t.Fatalf("no live projects subscription for %s", ownerID)
	return nil
}

func (f *fakeStore) liveMessagesSub(t *testing.T, projectID string) *messagesSub {
	t.Helper()
	for _, s := range f.messagesSubs() {
		if s.projectID == projectID && !s.cancelled() {
			return s
		}
	}
	t.Fatalf("no live messages subscription for %s", projectID)
	return nil
}

type agentResult struct {
	reply string
	err   error
}

type agentCall struct {
	ctx     context.Context
	text    string
	convCtx agent.Context
	result  chan agentResult
}

func (c *agentCall) respond(reply string, err error) {
	c.result <- agentResult{reply: reply, err: err}
}

// fakeAgent blocks every call until the test responds. With ignoreCancel set
// it keeps waiting after the call context is cancelled, like a server that
// answers late.
type fakeAgent struct {
	calls        chan *agentCall
	ignoreCancel bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{calls: make(chan *agentCall, 16)}
}

func (a *fakeAgent) Send(ctx context.Context, text string, convCtx agent.Context) (string, error) {
	call := &agentCall{ctx: ctx, text: text, convCtx: convCtx, result: make(chan agentResult, 1)}
	a.calls <- call

	if a.ignoreCancel {
		r := <-call.result
		return r.reply, r.err
	}
	select {
	case r := <-call.result:
		return r.reply, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *fakeAgent) next(t *testing.T) *agentCall {
	t.Helper()
	select {
	case c := <-a.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent call")
		return nil
	}
}

func (a *fakeAgent) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-a.calls:
		t.Fatalf("unexpected agent call with %q", c.text)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeStore) liveProjectsSubCount() int {
	n := 0
	for _, s := range f.projectsSubs() {
		if !s.cancelled() {
			n++
		}
	}
	return n
}
