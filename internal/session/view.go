package session

import (
	"time"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
)

type State string

const (
	StateIdle         State = "idle"
	StateSubscribed   State = "subscribed"
	StateTurnInFlight State = "turn_in_flight"
)

type NoticeKind string

const (
	NoticeSubscriptionError NoticeKind = "subscription_error"
	NoticeAgentUnavailable  NoticeKind = "agent_unavailable"
	NoticeFilesUnavailable  NoticeKind = "files_unavailable"
	NoticePersistFailed     NoticeKind = "persist_failed"
)

// Notice is a non-fatal, user-visible problem. The view stays usable.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// SuggestedPrompts are offered while a project is active.
var SuggestedPrompts = []string{
	"Predict the acceptance score for my paper",
	"Find relevant citations",
	"Critique my paper and suggest improvements",
	"Summarize the methodology",
	"Identify research gaps",
	"Check for novelty and contributions",
}

// View is everything a client renders. It is recomputed from the latest
// snapshot and the optimistic queue on every change and never shared with
// the loop after it is handed out.
type View struct {
	State     State                 `json:"state"`
	Identity  auth.Identity         `json:"identity"`
	Epoch     uint64                `json:"epoch"`
	Projects  []domain.Project      `json:"projects"`
	Active    *domain.Project       `json:"active_project,omitempty"`
	Files     []domain.FileRef      `json:"files"`
	Messages  []domain.MessageEntry `json:"messages"`
	Loading   bool                  `json:"loading"`
	Suggested []string              `json:"suggested_prompts,omitempty"`
	Notice    *Notice               `json:"notice,omitempty"`
}
