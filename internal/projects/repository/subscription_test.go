package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

func TestStartListener_ReportsTerminalError(t *testing.T) {
	cause := errors.New("permission denied")
	errs := make(chan error, 2)

	sub := startListener(context.Background(), "chat:p1", func(err error) { errs <- err }, func(ctx context.Context) error {
		return cause
	})

	err := receive(t, errs)
	assert.ErrorIs(t, err, domain.ErrSubscription)
	assert.ErrorIs(t, err, cause)

	var subErr *domain.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "chat:p1", subErr.Scope)

	<-sub.Done()
	assert.Empty(t, errs)
}

func TestStartListener_CancelIsQuiet(t *testing.T) {
	started := make(chan struct{})
	sub := startListener(context.Background(), "chat:p1", func(err error) {
		t.Errorf("cancel must not report an error, got %v", err)
	}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	sub.Cancel()
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("listener still running")
	}
}

func TestStartListener_CancelOneLeavesOthers(t *testing.T) {
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	a := startListener(context.Background(), "a", nil, block)
	b := startListener(context.Background(), "b", nil, block)
	defer b.Cancel()

	a.Cancel()
	<-a.Done()

	select {
	case <-b.Done():
		t.Fatal("cancelling one subscription stopped another")
	default:
	}
}
