package repository

import (
	"context"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// DefaultMessageLimit caps the chat snapshot for the active project.
const DefaultMessageLimit = 100

type (
	ProjectsFunc func([]domain.Project)
	MessagesFunc func([]domain.MessageEntry)
	ErrorFunc    func(error)
)

// SnapshotStore is the real-time store behind the session core.
//
// Subscribe calls deliver full replacement sequences, one call per store
// event, in the order the store emits them. A failure ends the subscription
// with a single *domain.SubscriptionError on onError; onEvent is not called
// after that. The returned Subscription is always non-nil.
type SnapshotStore interface {
	// SubscribeProjects streams every project owned by ownerID. Order is unspecified.
	SubscribeProjects(ctx context.Context, ownerID string, onEvent ProjectsFunc, onError ErrorFunc) Subscription

	// SubscribeMessages streams the chat of projectID newest-first, capped at limit.
	SubscribeMessages(ctx context.Context, projectID string, limit int, onEvent MessagesFunc, onError ErrorFunc) Subscription

	// FetchFiles is a one-shot read of the files attached to a project.
	FetchFiles(ctx context.Context, ownerID, projectID string) ([]domain.FileRef, error)

	// AppendMessages persists settled entries to the project's chat.
	AppendMessages(ctx context.Context, projectID string, entries ...domain.MessageEntry) error
}

func projectsScope(ownerID string) string   { return "projects:" + ownerID }
func messagesScope(projectID string) string { return "chat:" + projectID }

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	return limit
}
