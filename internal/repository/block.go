package repository

import (
	"context"
	"errors"

	"social_chat/internal/docstore"
	"social_chat/pkg/logger"
)

type blockEntry struct {
	BlockedID string `bson:"blockedId"`
}

// BlockRepository - документы users/{id}/blocked/{target}
type BlockRepository interface {
	Block(ctx context.Context, userID, targetID string) error
	Unblock(ctx context.Context, userID, targetID string) error
	IsBlocked(ctx context.Context, userID, targetID string) (bool, error)
	List(ctx context.Context, userID string) ([]string, error)
}

type blockRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewBlockRepository(store docstore.Store, log logger.Logger) BlockRepository {
	return &blockRepository{store: store, log: log}
}

func blockedCollection(userID string) string {
	return docstore.Doc("users", userID).Sub("blocked")
}

func (r *blockRepository) Block(ctx context.Context, userID, targetID string) error {
	err := r.store.Create(ctx, docstore.Doc(blockedCollection(userID), targetID), blockEntry{BlockedID: targetID}, "createdAt")
	if err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
		r.log.Error("Failed to block user", "error", err, "user_id", userID, "target_id", targetID)
		return err
	}
	return nil
}

func (r *blockRepository) Unblock(ctx context.Context, userID, targetID string) error {
	if err := r.store.Delete(ctx, docstore.Doc(blockedCollection(userID), targetID)); err != nil {
		r.log.Error("Failed to unblock user", "error", err, "user_id", userID, "target_id", targetID)
		return err
	}
	return nil
}

func (r *blockRepository) IsBlocked(ctx context.Context, userID, targetID string) (bool, error) {
	_, err := r.store.Get(ctx, docstore.Doc(blockedCollection(userID), targetID))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		r.log.Error("Failed to check block", "error", err, "user_id", userID, "target_id", targetID)
		return false, err
	}
	return true, nil
}

func (r *blockRepository) List(ctx context.Context, userID string) ([]string, error) {
	snaps, err := r.store.Query(ctx, docstore.NewQuery(blockedCollection(userID)).Order("createdAt", true))
	if err != nil {
		r.log.Error("Failed to list blocked users", "error", err, "user_id", userID)
		return nil, err
	}
	out := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Ref.ID)
	}
	return out, nil
}
