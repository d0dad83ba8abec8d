package session

import (
	"time"

	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

// reconcileSkew bounds how far a persisted copy's timestamp may precede the
// local entry and still count as the same message.
const reconcileSkew = 30 * time.Second

// Merge builds the visible conversation. snapshot is newest-first as the
// store delivers it and is reversed to chronological order; local entries
// (settled-but-unpersisted turns, then the optimistic pair) always form the tail.
func Merge(snapshot, local []domain.MessageEntry) []domain.MessageEntry {
	out := make([]domain.MessageEntry, 0, len(snapshot)+len(local))
	for i := len(snapshot) - 1; i >= 0; i-- {
		out = append(out, snapshot[i])
	}
	return append(out, local...)
}

// Reconcile returns the local settled entries that the snapshot does not yet
// contain. An entry is matched by id, or by role and content against a
// snapshot entry not older than the local one minus reconcileSkew. Each
// snapshot entry matches at most one local entry. Entries that are not
// settled are always kept.
func Reconcile(snapshot, local []domain.MessageEntry) []domain.MessageEntry {
	if len(local) == 0 {
		return nil
	}

	used := make([]bool, len(snapshot))
	byID := make(map[string]int, len(snapshot))
	for i, s := range snapshot {
		byID[s.ID] = i
	}

	var keep []domain.MessageEntry
	for _, l := range local {
		if l.Status != domain.StatusSettled {
			keep = append(keep, l)
			continue
		}
		if i, ok := byID[l.ID]; ok && !used[i] {
			used[i] = true
			continue
		}
		if i := findCopy(snapshot, used, l); i >= 0 {
			used[i] = true
			continue
		}
		keep = append(keep, l)
	}
	return keep
}

func findCopy(snapshot []domain.MessageEntry, used []bool, l domain.MessageEntry) int {
	earliest := l.Timestamp.Add(-reconcileSkew)
	for i, s := range snapshot {
		if used[i] || s.Role != l.Role || s.Content != l.Content {
			continue
		}
		if s.Timestamp.Before(earliest) {
			continue
		}
		return i
	}
	return -1
}
