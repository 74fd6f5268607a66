package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"social_chat/internal/domain"
	"social_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.AuditLog, error)
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	query := `
		INSERT INTO audit_log (event_time, actor_user_id, conversation_id, call_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		auditLog.EventTime, auditLog.ActorUserID, auditLog.ConversationID,
		auditLog.CallID, auditLog.EventType, auditLog.Payload,
	).Scan(&auditLog.ID)
	if err != nil {
		r.log.Error("Failed to create audit log", "error", err, "event_type", auditLog.EventType)
		return err
	}
	return nil
}

func (r *auditRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.AuditLog, error) {
	query := `
		SELECT id, event_time, actor_user_id, conversation_id, call_id, event_type, payload
		FROM audit_log
		WHERE conversation_id = $1
		ORDER BY event_time DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		r.log.Error("Failed to list audit log", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.AuditLog
	for rows.Next() {
		entry := &domain.AuditLog{}
		if err := rows.Scan(
			&entry.ID, &entry.EventTime, &entry.ActorUserID, &entry.ConversationID,
			&entry.CallID, &entry.EventType, &entry.Payload,
		); err != nil {
			r.log.Error("Failed to scan audit log", "error", err)
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
