package repository

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/interfaces"
	"github.com/fractionalquest/copilot/pkg/model"
)

// Repository is a memory store that also lists what it remembered
type Repository interface {
	interfaces.MemoryStore

	// ListTurns returns the latest turns of a user, newest first
	ListTurns(ctx context.Context, userID string, limit int) ([]*model.MemoryTurn, error)
}
