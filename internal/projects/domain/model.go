package domain

import "time"

// Project represents a research project owned by a single user.
// The session core only reads projects; they are created and updated elsewhere.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileRef is a file attached to a project. It is read-only context for the agent.
type FileRef struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"ownerId"`
	ProjectID   string    `json:"projectId"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath"`
	AddedAt     time.Time `json:"addedAt"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks where an entry is in the optimistic lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusLoading Status = "loading"
	StatusSettled Status = "settled"
)

// MessageEntry is one line of the conversation view. Optimistic entries carry
// locally generated ids, persisted ones carry store-assigned ids.
type MessageEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// IsLoading reports whether the entry is the assistant placeholder of an in-flight turn.
func (m MessageEntry) IsLoading() bool {
	return m.Status == StatusLoading
}
