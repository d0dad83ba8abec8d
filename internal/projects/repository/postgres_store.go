package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

const (
	pgProjectChannel = "project_events" // payload: owner_id
	pgChatChannel    = "chat_events"    // payload: project_id
)

// Schema creates the tables and the NOTIFY triggers PostgresStore relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects (owner_id);

CREATE TABLE IF NOT EXISTS project_files (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
	owner_id     TEXT NOT NULL,
	name         TEXT NOT NULL,
	size         BIGINT NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL DEFAULT '',
	added_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_project_ts ON chat_messages (project_id, timestamp DESC);

CREATE OR REPLACE FUNCTION notify_project_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('project_events', COALESCE(NEW.owner_id, OLD.owner_id));
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION notify_chat_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('chat_events', COALESCE(NEW.project_id, OLD.project_id));
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS projects_notify ON projects;
CREATE TRIGGER projects_notify AFTER INSERT OR UPDATE OR DELETE ON projects
	FOR EACH ROW EXECUTE FUNCTION notify_project_change();

DROP TRIGGER IF EXISTS chat_messages_notify ON chat_messages;
CREATE TRIGGER chat_messages_notify AFTER INSERT OR UPDATE OR DELETE ON chat_messages
	FOR EACH ROW EXECUTE FUNCTION notify_chat_change();
`

// PostgresStore reads through database/sql and turns NOTIFY payloads into
// snapshot events. Each subscription holds its own pq.Listener connection.
type PostgresStore struct {
	db  *sql.DB
	dsn string

	minReconnect time.Duration
	maxReconnect time.Duration
}

func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{
		db:           db,
		dsn:          dsn,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
	}
}

// Migrate applies Schema.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (r *PostgresStore) FetchFiles(ctx context.Context, ownerID, projectID string) ([]domain.FileRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, owner_id, project_id, size, storage_path, added_at
		FROM project_files
		WHERE owner_id = $1 AND project_id = $2
		ORDER BY added_at
	`, ownerID, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var out []domain.FileRef
	for rows.Next() {
		var f domain.FileRef
		if err := rows.Scan(&f.ID, &f.Name, &f.OwnerID, &f.ProjectID, &f.Size, &f.StoragePath, &f.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return out, nil
}

// AppendMessages inserts entries in a single transaction. Existing ids are left untouched.
func (r *PostgresStore) AppendMessages(ctx context.Context, projectID string, entries ...domain.MessageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_messages (id, project_id, role, content, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, projectID, string(e.Role), e.Content, e.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresStore) SubscribeProjects(ctx context.Context, ownerID string, onEvent ProjectsFunc, onError ErrorFunc) Subscription {
	return startListener(ctx, projectsScope(ownerID), onError, func(ctx context.Context) error {
		return r.listen(ctx, pgProjectChannel, ownerID, func(ctx context.Context) error {
			projects, err := r.loadProjects(ctx, ownerID)
			if err != nil {
				return err
			}
			onEvent(projects)
			return nil
		})
	})
}

func (r *PostgresStore) SubscribeMessages(ctx context.Context, projectID string, limit int, onEvent MessagesFunc, onError ErrorFunc) Subscription {
	limit = normalizeLimit(limit)
	return startListener(ctx, messagesScope(projectID), onError, func(ctx context.Context) error {
		return r.listen(ctx, pgChatChannel, projectID, func(ctx context.Context) error {
			msgs, err := r.loadMessages(ctx, projectID, limit)
			if err != nil {
				return err
			}
			onEvent(msgs)
			return nil
		})
	})
}

// listen emits on every notification whose payload equals key. A nil
// notification means the listener reconnected and may have missed events,
// so it also triggers a reload.
func (r *PostgresStore) listen(ctx context.Context, channel, key string, emit func(ctx context.Context) error) error {
	failed := make(chan error, 1)
	l := pq.NewListener(r.dsn, r.minReconnect, r.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
			select {
			case failed <- err:
			default:
			}
		}
	})
	defer l.Close()

	if err := l.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	if err := emit(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("listener connection: %w", err)
		case n := <-l.Notify:
			if n != nil && n.Extra != key {
				continue
			}
			if err := emit(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *PostgresStore) loadProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM projects
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	out := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return out, nil
}

func (r *PostgresStore) loadMessages(ctx context.Context, projectID string, limit int) ([]domain.MessageEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp
		FROM chat_messages
		WHERE project_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	out := []domain.MessageEntry{}
	for rows.Next() {
		var (
			e    domain.MessageEntry
			role string
		)
		if err := rows.Scan(&e.ID, &role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		e.Role = domain.Role(role)
		e.Status = domain.StatusSettled
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}
