package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/repository"
	"github.com/fractionalquest/copilot/pkg/usecase/history"
	"github.com/m-mizutani/gt"
)

func seed(t *testing.T, repo *repository.Memory) {
	ctx := context.Background()
	for i := range 5 {
		gt.NoError(t, repo.StoreTurn(ctx, &model.MemoryTurn{
			UserID:   "u1",
			Role:     model.MemoryRoleUser,
			Content:  fmt.Sprintf("looking for fractional CFO roles, take %d", i),
			Metadata: map[string]any{model.MemoryMetaSource: "chat"},
		}))
	}
	gt.NoError(t, repo.StoreTurn(ctx, &model.MemoryTurn{
		UserID:   "u1",
		Role:     model.MemoryRoleUser,
		Content:  "Interested in CFO roles in London",
		Metadata: map[string]any{model.MemoryMetaSource: "confirmation"},
	}))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seed(t, repo)

	t.Run("newest first", func(t *testing.T) {
		turns, err := history.List(ctx, repo, "u1", 2, history.Filter{})
		gt.NoError(t, err)
		gt.A(t, turns).Length(2)
		gt.Equal(t, turns[0].Content, "Interested in CFO roles in London")
	})

	t.Run("default limit", func(t *testing.T) {
		turns, err := history.List(ctx, repo, "u1", 0, history.Filter{})
		gt.NoError(t, err)
		gt.A(t, turns).Length(6)
	})

	t.Run("filter by source", func(t *testing.T) {
		turns, err := history.List(ctx, repo, "u1", 10, history.Filter{Source: "confirmation"})
		gt.NoError(t, err)
		gt.A(t, turns).Length(1)
		gt.Equal(t, turns[0].Content, "Interested in CFO roles in London")
	})

	t.Run("unknown user", func(t *testing.T) {
		turns, err := history.List(ctx, repo, "nobody", 10, history.Filter{})
		gt.NoError(t, err)
		gt.A(t, turns).Length(0)
	})

	t.Run("user required", func(t *testing.T) {
		_, err := history.List(ctx, repo, "", 10, history.Filter{})
		gt.True(t, errors.Is(err, history.ErrUserRequired))
	})
}
