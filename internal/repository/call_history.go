package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"social_chat/internal/domain"
	"social_chat/pkg/logger"
)

// CallHistoryRepository - архив завершенных звонков в PostgreSQL.
// Сюда попадают документы звонков перед удалением уборкой.
type CallHistoryRepository interface {
	Archive(ctx context.Context, rec *domain.CallRecord) error
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.CallRecord, error)
}

type callHistoryRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewCallHistoryRepository(db *pgxpool.Pool, log logger.Logger) CallHistoryRepository {
	return &callHistoryRepository{db: db, log: log}
}

func (r *callHistoryRepository) Archive(ctx context.Context, rec *domain.CallRecord) error {
	query := `
		INSERT INTO call_history (call_id, caller_id, receiver_id, group_id, call_type, status,
		                          created_at, answered_at, ended_at, duration, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		rec.CallID, rec.CallerID, rec.ReceiverID, rec.GroupID, string(rec.CallType), string(rec.Status),
		rec.CreatedAt, rec.AnsweredAt, rec.EndedAt, rec.Duration, rec.ArchivedAt,
	)
	if err != nil {
		r.log.Error("Failed to archive call", "error", err, "call_id", rec.CallID)
		return err
	}
	return nil
}

func (r *callHistoryRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, group_id, call_type, status,
		       created_at, answered_at, ended_at, duration, archived_at
		FROM call_history
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list call history", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CallRecord
	for rows.Next() {
		rec := &domain.CallRecord{}
		var callType, status string
		if err := rows.Scan(
			&rec.CallID, &rec.CallerID, &rec.ReceiverID, &rec.GroupID, &callType, &status,
			&rec.CreatedAt, &rec.AnsweredAt, &rec.EndedAt, &rec.Duration, &rec.ArchivedAt,
		); err != nil {
			r.log.Error("Failed to scan call history", "error", err)
			return nil, err
		}
		rec.CallType = domain.CallType(callType)
		rec.Status = domain.CallStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
