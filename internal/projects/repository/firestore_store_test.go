package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

func TestChatDoc_DecodesAsSettled(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := chatDoc{Content: "It uses X.", Role: "assistant", Timestamp: ts}.toDomain("m1")

	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, domain.RoleAssistant, e.Role)
	assert.Equal(t, domain.StatusSettled, e.Status)
	assert.Equal(t, ts, e.Timestamp)

	// Only content, role and timestamp are stored.
	back := chatDocFrom(domain.MessageEntry{ID: "m1", Content: "It uses X.", Role: domain.RoleAssistant, Timestamp: ts, Status: domain.StatusPending})
	assert.Equal(t, chatDoc{Content: "It uses X.", Role: "assistant", Timestamp: ts}, back)
}

func TestProjectAndFileDocs_Decode(t *testing.T) {
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	p := projectDoc{Name: "Thesis", OwnerID: "U1", CreatedAt: created, UpdatedAt: created.Add(time.Hour)}.toDomain("p1")
	assert.Equal(t, domain.Project{ID: "p1", Name: "Thesis", OwnerID: "U1", CreatedAt: created, UpdatedAt: created.Add(time.Hour)}, p)

	f := fileDoc{Name: "paper.pdf", OwnerID: "U1", ProjectID: "p1", Size: 1024, StoragePath: "u1/paper.pdf", AddedAt: created}.toDomain("f1")
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "p1", f.ProjectID)
	assert.Equal(t, int64(1024), f.Size)
	assert.Equal(t, "u1/paper.pdf", f.StoragePath)
}

func TestEndedByCaller(t *testing.T) {
	live := context.Background()
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{name: "iterator done", ctx: live, err: iterator.Done, want: true},
		{name: "grpc canceled", ctx: live, err: status.Error(codes.Canceled, "listen stream closed"), want: true},
		{name: "context canceled", ctx: live, err: fmt.Errorf("next: %w", context.Canceled), want: true},
		{name: "caller gone", ctx: gone, err: status.Error(codes.Unavailable, "transport closing"), want: true},
		{name: "unavailable", ctx: live, err: status.Error(codes.Unavailable, "backend down"), want: false},
		{name: "permission denied", ctx: live, err: status.Error(codes.PermissionDenied, "rules"), want: false},
		{name: "plain error", ctx: live, err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endedByCaller(tt.ctx, tt.err))
		})
	}
}

// The tests below need a running emulator, e.g.
//
//	gcloud emulators firestore start --host-port=localhost:8089
//	FIRESTORE_EMULATOR_HOST=localhost:8089 go test ./internal/projects/repository/
func setupTestFirestore(t *testing.T) *firestore.Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "intelliexo-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestFirestoreStore_SubscribeProjects(t *testing.T) {
	client := setupTestFirestore(t)
	store := NewFirestoreStore(client)
	ctx := context.Background()
	owner := uuid.NewString()

	_, err := client.Collection("projects").Doc(uuid.NewString()).Set(ctx, projectDoc{Name: "Thesis", OwnerID: owner})
	require.NoError(t, err)
	_, err = client.Collection("projects").Doc(uuid.NewString()).Set(ctx, projectDoc{Name: "Not mine", OwnerID: uuid.NewString()})
	require.NoError(t, err)

	events := make(chan []domain.Project, 8)
	sub := store.SubscribeProjects(ctx, owner, func(ps []domain.Project) { events <- ps }, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})
	defer sub.Cancel()

	initial := receive(t, events)
	require.Len(t, initial, 1)
	assert.Equal(t, "Thesis", initial[0].Name)

	_, err = client.Collection("projects").Doc(uuid.NewString()).Set(ctx, projectDoc{Name: "Survey", OwnerID: owner})
	require.NoError(t, err)

	updated := receive(t, events)
	assert.Len(t, updated, 2)
}

func TestFirestoreStore_SubscribeMessages_NewestFirstAndCapped(t *testing.T) {
	store := NewFirestoreStore(setupTestFirestore(t))
	ctx := context.Background()
	projectID := uuid.NewString()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendMessages(ctx, projectID,
		domain.MessageEntry{ID: "m1", Role: domain.RoleUser, Content: "first", Timestamp: base},
		domain.MessageEntry{ID: "m2", Role: domain.RoleAssistant, Content: "second", Timestamp: base.Add(time.Second)},
		domain.MessageEntry{ID: "m3", Role: domain.RoleUser, Content: "third", Timestamp: base.Add(2 * time.Second)},
	))

	events := make(chan []domain.MessageEntry, 8)
	sub := store.SubscribeMessages(ctx, projectID, 2, func(ms []domain.MessageEntry) { events <- ms }, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})
	defer sub.Cancel()

	initial := receive(t, events)
	require.Len(t, initial, 2)
	assert.Equal(t, "m3", initial[0].ID)
	assert.Equal(t, "m2", initial[1].ID)
	assert.Equal(t, domain.StatusSettled, initial[0].Status)

	require.NoError(t, store.AppendMessages(ctx, projectID,
		domain.MessageEntry{ID: "m4", Role: domain.RoleAssistant, Content: "fourth", Timestamp: base.Add(3 * time.Second)},
	))

	updated := receive(t, events)
	require.Len(t, updated, 2)
	assert.Equal(t, "m4", updated[0].ID)
	assert.Equal(t, "m3", updated[1].ID)
}

func TestFirestoreStore_CancelIsQuiet(t *testing.T) {
	store := NewFirestoreStore(setupTestFirestore(t))
	ctx := context.Background()

	events := make(chan []domain.MessageEntry, 8)
	sub := store.SubscribeMessages(ctx, uuid.NewString(), 0, func(ms []domain.MessageEntry) { events <- ms }, func(err error) {
		t.Errorf("cancel must not report an error: %v", err)
	})
	receive(t, events)

	sub.Cancel()
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit after cancel")
	}
}

func TestFirestoreStore_FetchFiles_FiltersByOwnerAndProject(t *testing.T) {
	client := setupTestFirestore(t)
	store := NewFirestoreStore(client)
	ctx := context.Background()
	owner, projectID := uuid.NewString(), uuid.NewString()

	files := client.Collection("files")
	for _, doc := range []fileDoc{
		{Name: "paper.pdf", OwnerID: owner, ProjectID: projectID, Size: 1024},
		{Name: "foreign.pdf", OwnerID: uuid.NewString(), ProjectID: projectID},
		{Name: "other.pdf", OwnerID: owner, ProjectID: uuid.NewString()},
	} {
		_, err := files.Doc(uuid.NewString()).Set(ctx, doc)
		require.NoError(t, err)
	}

	got, err := store.FetchFiles(ctx, owner, projectID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "paper.pdf", got[0].Name)
	assert.Equal(t, int64(1024), got[0].Size)

	none, err := store.FetchFiles(ctx, owner, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}
