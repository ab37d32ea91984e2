package interfaces

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/model"
)

// MemoryStore is the external memory service the assistant writes conversation turns to
// and reads the categorized entity snapshot from
type MemoryStore interface {
	// StoreTurn persists a single conversation turn. Callers treat every error as
	// transient and never retry.
	StoreTurn(ctx context.Context, turn *model.MemoryTurn) error

	// Entities returns the categorized snapshot for a user. A user without any
	// remembered entities gets an empty snapshot, not an error.
	Entities(ctx context.Context, userID string) (*model.Entities, error)
}

// JobSource is the jobs listing collaborator the search tools query
type JobSource interface {
	SearchJobs(ctx context.Context, q model.JobQuery) ([]*model.Job, error)
}

// TranscriptArchive receives the transcript of a closed chat session
type TranscriptArchive interface {
	PutTranscript(ctx context.Context, t *model.Transcript) error
}
