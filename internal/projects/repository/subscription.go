package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// Subscription is a cancel handle for a live store query.
type Subscription interface {
	// Cancel stops delivery. It is idempotent and does not wait for the
	// underlying unsubscribe to finish.
	Cancel()
	// Done is closed once the listener goroutine has exited.
	Done() <-chan struct{}
}

type listener struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (l *listener) Cancel() {
	l.once.Do(l.cancel)
}

func (l *listener) Done() <-chan struct{} {
	return l.done
}

// startListener runs listen on its own goroutine. A non-nil error returned
// while the subscription is still wanted is reported once via onError.
func startListener(parent context.Context, scope string, onError ErrorFunc, listen func(ctx context.Context) error) Subscription {
	ctx, cancel := context.WithCancel(parent)
	l := &listener{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		defer l.Cancel()

		err := listen(ctx)
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		if onError != nil {
			onError(domain.NewSubscriptionError(scope, err))
		}
	}()

	return l
}
