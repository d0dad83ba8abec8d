package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/projects/repository"
)

// Registry keeps one running Synchronizer per signed-in user.
type Registry struct {
	store  repository.SnapshotStore
	agent  Agent
	logger *zap.Logger
	opts   []Option

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	sessions map[string]*Synchronizer
	closed   bool
}

func NewRegistry(ctx context.Context, store repository.SnapshotStore, agentClient Agent, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	return &Registry{
		store:    store,
		agent:    agentClient,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
		sessions: make(map[string]*Synchronizer),
	}
}

// Get returns the session of uid, starting it with a present identity on
// first use. A session is never created on behalf of a cancelled ctx.
func (r *Registry) Get(ctx context.Context, uid string) (*Synchronizer, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := r.sessions[uid]; ok {
		r.mu.Unlock()
		return s, nil
	}

	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	// Run applies the identity before serving any operation, so the session
	// is never visible with an unresolved identity.
	opts := append(append([]Option(nil), r.opts...), WithIdentity(auth.Present(uid)))
	s := New(r.store, r.agent, r.logger.With(zap.String("uid", uid)), opts...)
	r.sessions[uid] = s
	r.group.Go(func() error {
		err := s.Run(r.ctx)
		r.mu.Lock()
		if r.sessions[uid] == s {
			delete(r.sessions, uid)
		}
		r.mu.Unlock()
		return err
	})
	r.mu.Unlock()

	r.logger.Info("session started", zap.String("uid", uid))
	return s, nil
}

// Len reports the number of running sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops every session and waits for them to finish.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	return r.group.Wait()
}
