package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

const (
	projectKeyPrefix      = "proj:"            // Project data: proj:{project_id}
	ownerProjectSetPrefix = "owner:"           // Set of project IDs for an owner: owner:{owner_id}:projects
	chatKeyPrefix         = "chat:"            // Sorted set of entries by timestamp: chat:{project_id}
	filesKeyPrefix        = "files:"           // Hash of file ID -> file JSON: files:{project_id}
	projectEventPrefix    = "events:projects:" // Pub/Sub channel per owner
	chatEventPrefix       = "events:chat:"     // Pub/Sub channel per project
)

// RedisStore keeps projects, files and chat in Redis and uses Pub/Sub
// notifications to turn writes into snapshot events.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveProject creates or replaces a project and notifies its owner's subscribers.
func (r *RedisStore) SaveProject(ctx context.Context, p domain.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.projectKey(p.ID), data, 0)
	pipe.SAdd(ctx, r.ownerProjectSetKey(p.OwnerID), p.ID)
	pipe.Publish(ctx, projectEventPrefix+p.OwnerID, p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// SaveFile attaches a file record to its project.
func (r *RedisStore) SaveFile(ctx context.Context, f domain.FileRef) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.AddedAt.IsZero() {
		f.AddedAt = time.Now()
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal file: %w", err)
	}
	if err := r.client.HSet(ctx, r.filesKey(f.ProjectID), f.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func (r *RedisStore) AppendMessages(ctx context.Context, projectID string, entries ...domain.MessageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.Status = domain.StatusSettled

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		pipe.ZAdd(ctx, r.chatKey(projectID), redis.Z{
			Score:  float64(e.Timestamp.UnixMilli()),
			Member: data,
		})
	}
	pipe.Publish(ctx, chatEventPrefix+projectID, len(entries))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

func (r *RedisStore) FetchFiles(ctx context.Context, ownerID, projectID string) ([]domain.FileRef, error) {
	raw, err := r.client.HVals(ctx, r.filesKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	out := make([]domain.FileRef, 0, len(raw))
	for _, v := range raw {
		var f domain.FileRef
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file: %w", err)
		}
		if f.OwnerID != ownerID {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *RedisStore) SubscribeProjects(ctx context.Context, ownerID string, onEvent ProjectsFunc, onError ErrorFunc) Subscription {
	return startListener(ctx, projectsScope(ownerID), onError, func(ctx context.Context) error {
		return r.listen(ctx, projectEventPrefix+ownerID, func(ctx context.Context) error {
			projects, err := r.loadProjects(ctx, ownerID)
			if err != nil {
				return err
			}
			onEvent(projects)
			return nil
		})
	})
}

func (r *RedisStore) SubscribeMessages(ctx context.Context, projectID string, limit int, onEvent MessagesFunc, onError ErrorFunc) Subscription {
	limit = normalizeLimit(limit)
	return startListener(ctx, messagesScope(projectID), onError, func(ctx context.Context) error {
		return r.listen(ctx, chatEventPrefix+projectID, func(ctx context.Context) error {
			msgs, err := r.loadMessages(ctx, projectID, limit)
			if err != nil {
				return err
			}
			onEvent(msgs)
			return nil
		})
	})
}

// listen subscribes to channel, emits the initial state, then re-emits on
// every notification. The subscription is confirmed before the initial load
// so no write between the two is missed.
func (r *RedisStore) listen(ctx context.Context, channel string, emit func(ctx context.Context) error) error {
	ps := r.client.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := emit(ctx); err != nil {
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel %s closed", channel)
			}
			if err := emit(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *RedisStore) loadProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	ids, err := r.client.SMembers(ctx, r.ownerProjectSetKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for owner: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Project{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.projectKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get projects: %w", err)
	}

	out := make([]domain.Project, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Set member without data; skip it.
			continue
		}
		var p domain.Project
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal project: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisStore) loadMessages(ctx context.Context, projectID string, limit int) ([]domain.MessageEntry, error) {
	raw, err := r.client.ZRevRange(ctx, r.chatKey(projectID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]domain.MessageEntry, 0, len(raw))
	for _, v := range raw {
		var e domain.MessageEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisStore) projectKey(projectID string) string {
	return projectKeyPrefix + projectID
}

func (r *RedisStore) ownerProjectSetKey(ownerID string) string {
	return ownerProjectSetPrefix + ownerID + ":projects"
}

func (r *RedisStore) chatKey(projectID string) string {
	return chatKeyPrefix + projectID
}

func (r *RedisStore) filesKey(projectID string) string {
	return filesKeyPrefix + projectID
}
