package http

import (
	"context"

	"github.com/intelliexo/intelliexo-backend/internal/session"
)

// Session is the part of a Synchronizer the handlers drive.
type Session interface {
	View(ctx context.Context) (session.View, error)
	Watch(ctx context.Context) (<-chan session.View, func(), error)
	SelectProject(ctx context.Context, projectID string) error
	ClearProject(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	SubmitSuggested(ctx context.Context, index int) error
	RefreshFiles(ctx context.Context) error
}

// Sessions resolves the session of a signed-in user.
type Sessions interface {
	Get(ctx context.Context, uid string) (Session, error)
}

type registrySessions struct {
	reg *session.Registry
}

// FromRegistry adapts a session.Registry to Sessions.
func FromRegistry(reg *session.Registry) Sessions {
	return registrySessions{reg: reg}
}

func (r registrySessions) Get(ctx context.Context, uid string) (Session, error) {
	s, err := r.reg.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type selectProjectRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

type submitRequest struct {
	Message string `json:"message"`
}
