package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bussulac/access-gateway/internal/models"
)

// SaveSecurityEvent добавляет запись в журнал безопасности.
func (s *Storage) SaveSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	const op = "storage.SaveSecurityEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data := ev.EventData
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var userUID sql.NullString
	if ev.UserUID != "" {
		userUID = sql.NullString{String: ev.UserUID, Valid: true}
	}

	query := `INSERT INTO security_events (event_type, event_data, user_uid, created_at)
			  VALUES ($1, $2, $3, $4)`
	if _, err := s.DB.ExecContext(ctx, query, ev.EventType, string(payload), userUID, ev.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListSecurityEvents последние события пользователя, новые первыми.
func (s *Storage) ListSecurityEvents(ctx context.Context, userUID string, limit int) ([]models.SecurityEvent, error) {
	const op = "storage.ListSecurityEvents"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT event_type, event_data, COALESCE(user_uid, ''), created_at
			  FROM security_events
			  WHERE user_uid = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, userUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.SecurityEvent
	for rows.Next() {
		var (
			ev      models.SecurityEvent
			payload []byte
		)
		if err := rows.Scan(&ev.EventType, &payload, &ev.UserUID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(payload, &ev.EventData); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
