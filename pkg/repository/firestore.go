package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionTurns    = "memory_turns"
	collectionEntities = "memory_entities"
)

// Firestore keeps turns in memory_turns and a per-user entity document in
// memory_entities/{userId}, extended from the metadata hints of each turn
type Firestore struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client, now: time.Now}, nil
}

// Close releases the client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) StoreTurn(ctx context.Context, turn *model.MemoryTurn) error {
	doc := *turn
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}

	if _, err := r.client.Collection(collectionTurns).NewDoc().Set(ctx, &doc); err != nil {
		return goerr.Wrap(err, "failed to put memory turn", goerr.V("user_id", turn.UserID))
	}

	hints := turn.EntityHints()
	if hints.Count() == 0 {
		return nil
	}

	update := map[string]any{"updated_at": doc.CreatedAt}
	for field, values := range map[string][]string{
		"roles":       hints.Roles,
		"locations":   hints.Locations,
		"interests":   hints.Interests,
		"experiences": hints.Experiences,
	} {
		if len(values) == 0 {
			continue
		}
		union := make([]any, len(values))
		for i, v := range values {
			union[i] = v
		}
		update[field] = firestore.ArrayUnion(union...)
	}

	if _, err := r.client.Collection(collectionEntities).Doc(turn.UserID).Set(ctx, update, firestore.MergeAll); err != nil {
		return goerr.Wrap(err, "failed to update entities", goerr.V("user_id", turn.UserID))
	}
	return nil
}

func (r *Firestore) Entities(ctx context.Context, userID string) (*model.Entities, error) {
	doc, err := r.client.Collection(collectionEntities).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &model.Entities{}, nil
		}
		return nil, goerr.Wrap(err, "failed to get entities", goerr.V("user_id", userID))
	}

	var entities model.Entities
	if err := doc.DataTo(&entities); err != nil {
		return nil, goerr.Wrap(err, "failed to decode entities", goerr.V("user_id", userID))
	}
	return &entities, nil
}

func (r *Firestore) ListTurns(ctx context.Context, userID string, limit int) ([]*model.MemoryTurn, error) {
	iter := r.client.Collection(collectionTurns).
		Where("user_id", "==", userID).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var turns []*model.MemoryTurn
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memory turns", goerr.V("user_id", userID))
		}

		var turn model.MemoryTurn
		if err := doc.DataTo(&turn); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory turn", goerr.V("doc_id", doc.Ref.ID))
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}
