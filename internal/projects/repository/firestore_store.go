package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// FirestoreStore serves snapshots from Firestore real-time listeners.
//
// Layout:
//
//	projects/{projectId}            ownerId, name, createdAt, updatedAt
//	projects/{projectId}/chat/{id}  content, role, timestamp
//	files/{fileId}                  ownerId, projectId, name, size, storagePath, addedAt
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type projectDoc struct {
	Name      string    `firestore:"name"`
	OwnerID   string    `firestore:"ownerId"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type chatDoc struct {
	Content   string    `firestore:"content"`
	Role      string    `firestore:"role"`
	Timestamp time.Time `firestore:"timestamp"`
}

type fileDoc struct {
	Name        string    `firestore:"name"`
	OwnerID     string    `firestore:"ownerId"`
	ProjectID   string    `firestore:"projectId"`
	Size        int64     `firestore:"size"`
	StoragePath string    `firestore:"storagePath"`
	AddedAt     time.Time `firestore:"addedAt"`
}

func (d projectDoc) toDomain(id string) domain.Project {
	return domain.Project{
		ID:        id,
		Name:      d.Name,
		OwnerID:   d.OwnerID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Chat documents are persisted history, so they always decode as settled.
func (d chatDoc) toDomain(id string) domain.MessageEntry {
	return domain.MessageEntry{
		ID:        id,
		Content:   d.Content,
		Role:      domain.Role(d.Role),
		Timestamp: d.Timestamp,
		Status:    domain.StatusSettled,
	}
}

func chatDocFrom(e domain.MessageEntry) chatDoc {
	return chatDoc{Content: e.Content, Role: string(e.Role), Timestamp: e.Timestamp}
}

func (d fileDoc) toDomain(id string) domain.FileRef {
	return domain.FileRef{
		ID:          id,
		Name:        d.Name,
		OwnerID:     d.OwnerID,
		ProjectID:   d.ProjectID,
		Size:        d.Size,
		StoragePath: d.StoragePath,
		AddedAt:     d.AddedAt,
	}
}

func (s *FirestoreStore) projectsCol() *firestore.CollectionRef {
	return s.client.Collection("projects")
}

func (s *FirestoreStore) chatCol(projectID string) *firestore.CollectionRef {
	return s.projectsCol().Doc(projectID).Collection("chat")
}

func (s *FirestoreStore) filesCol() *firestore.CollectionRef {
	return s.client.Collection("files")
}

func (s *FirestoreStore) SubscribeProjects(ctx context.Context, ownerID string, onEvent ProjectsFunc, onError ErrorFunc) Subscription {
	q := s.projectsCol().Where("ownerId", "==", ownerID)

	return startListener(ctx, projectsScope(ownerID), onError, func(ctx context.Context) error {
		return listenQuery(ctx, q, func(docs []*firestore.DocumentSnapshot) error {
			out := make([]domain.Project, 0, len(docs))
			for _, snap := range docs {
				var doc projectDoc
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode projectDoc %s: %w", snap.Ref.ID, err)
				}
				out = append(out, doc.toDomain(snap.Ref.ID))
			}
			onEvent(out)
			return nil
		})
	})
}

func (s *FirestoreStore) SubscribeMessages(ctx context.Context, projectID string, limit int, onEvent MessagesFunc, onError ErrorFunc) Subscription {
	q := s.messagesQuery(projectID, limit)

	return startListener(ctx, messagesScope(projectID), onError, func(ctx context.Context) error {
		return listenQuery(ctx, q, func(docs []*firestore.DocumentSnapshot) error {
			out := make([]domain.MessageEntry, 0, len(docs))
			for _, snap := range docs {
				var doc chatDoc
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode chatDoc %s: %w", snap.Ref.ID, err)
				}
				out = append(out, doc.toDomain(snap.Ref.ID))
			}
			onEvent(out)
			return nil
		})
	})
}

// messagesQuery selects the newest limit entries of a chat, newest first.
func (s *FirestoreStore) messagesQuery(projectID string, limit int) firestore.Query {
	return s.chatCol(projectID).OrderBy("timestamp", firestore.Desc).Limit(normalizeLimit(limit))
}

func (s *FirestoreStore) FetchFiles(ctx context.Context, ownerID, projectID string) ([]domain.FileRef, error) {
	iter := s.filesCol().
		Where("ownerId", "==", ownerID).
		Where("projectId", "==", projectID).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.FileRef
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore FetchFiles: %w", err)
		}

		var doc fileDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode fileDoc: %w", err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}

func (s *FirestoreStore) AppendMessages(ctx context.Context, projectID string, entries ...domain.MessageEntry) error {
	col := s.chatCol(projectID)
	for _, e := range entries {
		if _, err := col.Doc(e.ID).Set(ctx, chatDocFrom(e)); err != nil {
			return fmt.Errorf("firestore AppendMessages: %w", err)
		}
	}
	return nil
}

// listenQuery drives a Firestore snapshot listener until ctx ends or the
// listener fails.
func listenQuery(ctx context.Context, q firestore.Query, emit func([]*firestore.DocumentSnapshot) error) error {
	it := q.Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			if endedByCaller(ctx, err) {
				return nil
			}
			return err
		}

		docs, err := qs.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("read snapshot documents: %w", err)
		}
		if err := emit(docs); err != nil {
			return err
		}
	}
}

// endedByCaller reports whether a listener error only reflects the caller
// going away. Such errors end the subscription without reaching onError.
func endedByCaller(ctx context.Context, err error) bool {
	return errors.Is(err, iterator.Done) ||
		errors.Is(err, context.Canceled) ||
		status.Code(err) == codes.Canceled ||
		ctx.Err() != nil
}
