package session

import (
	"time"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// Queue holds the locally originated entries of one session: the in-flight
// pair (pending user line + loading placeholder) and turns the agent has
// answered but the store has not echoed back yet.
//
// Queue is not safe for concurrent use; the Synchronizer owns it on its loop.
type Queue struct {
	user        *domain.MessageEntry
	placeholder *domain.MessageEntry
	settled     []domain.MessageEntry

	newID func() string
	now   func() time.Time
}

func NewQueue(newID func() string, now func() time.Time) *Queue {
	return &Queue{newID: newID, now: now}
}

// IsLoading reports whether a turn is outstanding.
func (q *Queue) IsLoading() bool {
	return q.placeholder != nil
}

// BeginTurn creates the pending user entry and the loading placeholder
// together. It is a no-op returning ok=false while a turn is outstanding.
func (q *Queue) BeginTurn(userText string) (user, placeholder domain.MessageEntry, ok bool) {
	if q.IsLoading() {
		return domain.MessageEntry{}, domain.MessageEntry{}, false
	}

	now := q.now()
	user = domain.MessageEntry{
		ID:        q.newID(),
		Content:   userText,
		Role:      domain.RoleUser,
		Timestamp: now,
		Status:    domain.StatusPending,
	}
	placeholder = domain.MessageEntry{
		ID:        q.newID(),
		Role:      domain.RoleAssistant,
		Timestamp: now,
		Status:    domain.StatusLoading,
	}
	q.user, q.placeholder = &user, &placeholder
	return user, placeholder, true
}

// SettleTurn replaces the placeholder identified by placeholderID with a
// settled assistant entry carrying reply. The pair stays in place, after any
// earlier settled turns. It returns ok=false if placeholderID is not the
// outstanding placeholder.
func (q *Queue) SettleTurn(placeholderID, reply string) (user, assistant domain.MessageEntry, ok bool) {
	if q.placeholder == nil || q.placeholder.ID != placeholderID {
		return domain.MessageEntry{}, domain.MessageEntry{}, false
	}

	user = *q.user
	user.Status = domain.StatusSettled
	assistant = domain.MessageEntry{
		ID:        q.placeholder.ID,
		Content:   reply,
		Role:      domain.RoleAssistant,
		Timestamp: q.now(),
		Status:    domain.StatusSettled,
	}

	q.settled = append(q.settled, user, assistant)
	q.user, q.placeholder = nil, nil
	return user, assistant, true
}

// AbortTurn removes the outstanding pair identified by placeholderID.
func (q *Queue) AbortTurn(placeholderID string) bool {
	if q.placeholder == nil || q.placeholder.ID != placeholderID {
		return false
	}
	q.user, q.placeholder = nil, nil
	return true
}

// Reconcile drops settled entries the store snapshot now carries.
func (q *Queue) Reconcile(snapshot []domain.MessageEntry) {
	q.settled = Reconcile(snapshot, q.settled)
}

// Entries returns the local tail in display order.
func (q *Queue) Entries() []domain.MessageEntry {
	out := make([]domain.MessageEntry, 0, len(q.settled)+2)
	out = append(out, q.settled...)
	if q.placeholder != nil {
		out = append(out, *q.user, *q.placeholder)
	}
	return out
}

// Reset discards everything, including an outstanding turn.
func (q *Queue) Reset() {
	q.user, q.placeholder, q.settled = nil, nil, nil
}
