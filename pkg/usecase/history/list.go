// Package history lists what the assistant remembered about a user
package history

import (
	"context"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

var ErrUserRequired = goerr.New("user id is required")

// Filter narrows the listing to turns written from one source, e.g. "confirmation"
type Filter struct {
	Source string
}

// List returns the newest remembered turns of a user. A non-positive limit falls back
// to DefaultLimit.
func List(
	ctx context.Context,
	repo repository.Repository,
	userID string,
	limit int,
	filter Filter,
) ([]*model.MemoryTurn, error) {
	if userID == "" {
		return nil, goerr.Wrap(ErrUserRequired, "cannot list history")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	fetch := limit
	if filter.Source != "" {
		fetch = MaxLimit
	}

	turns, err := repo.ListTurns(ctx, userID, fetch)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list turns", goerr.V("user_id", userID))
	}

	if filter.Source == "" {
		return turns, nil
	}
	out := make([]*model.MemoryTurn, 0, limit)
	for _, t := range turns {
		if src, _ := t.Metadata[model.MemoryMetaSource].(string); src != filter.Source {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
