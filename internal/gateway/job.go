package gateway

import (
	"context"
	"time"

	"github.com/user/larkflow/internal/types"
)

// Job is one unit of deferred work bound to a session lane.
type Job struct {
	ID        types.JobID
	SessionID types.SessionID
	CreatedAt time.Time
	Run       func(ctx context.Context) error
}

// NewJob creates a Job for the given session.
func NewJob(sessionID types.SessionID, run func(ctx context.Context) error) *Job {
	return &Job{
		ID:        types.NewJobID(),
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Run:       run,
	}
}
