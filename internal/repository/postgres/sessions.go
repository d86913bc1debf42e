package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// SessionRepository implements port.SessionRepository using PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository wires a session repository.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{exec: exec, builder: newBuilder()}
}

// Create persists a session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.UserSession) error {
	deviceInfo, err := json.Marshal(session.DeviceInfo)
	if err != nil {
		return fmt.Errorf("marshal device info: %w", err)
	}

	stmt, args, err := r.builder.Insert(sessionsTable).
		Columns(
			"id",
			"user_id",
			"session_key",
			"ip_address",
			"user_agent",
			"device_info",
			"is_active",
			"created_at",
			"last_activity",
			"country",
			"city",
		).
		Values(
			session.ID,
			session.UserID,
			session.SessionKey,
			session.IPAddress,
			session.UserAgent,
			deviceInfo,
			session.IsActive,
			session.CreatedAt,
			session.LastActivity,
			session.Country,
			session.City,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert session", err)
	}
	return nil
}

// GetByKey loads a session by its key.
func (r *SessionRepository) GetByKey(ctx context.Context, sessionKey string) (*domain.UserSession, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"session_key",
		"ip_address",
		"user_agent",
		"device_info",
		"is_active",
		"created_at",
		"last_activity",
		"country",
		"city",
	).
		From(sessionsTable).
		Where(squirrel.Eq{"session_key": sessionKey}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	var (
		session    domain.UserSession
		deviceInfo []byte
	)
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&session.ID,
		&session.UserID,
		&session.SessionKey,
		&session.IPAddress,
		&session.UserAgent,
		&deviceInfo,
		&session.IsActive,
		&session.CreatedAt,
		&session.LastActivity,
		&session.Country,
		&session.City,
	)
	if err != nil {
		return nil, mapReadError("select session", err)
	}

	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &session.DeviceInfo); err != nil {
			return nil, fmt.Errorf("decode device info: %w", err)
		}
	}

	return &session, nil
}

// Touch records activity on an active session.
func (r *SessionRepository) Touch(ctx context.Context, sessionKey string, at time.Time) error {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("last_activity", at).
		Where(squirrel.Eq{"session_key": sessionKey, "is_active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireAffected(tag)
}

// Deactivate marks a single session inactive.
func (r *SessionRepository) Deactivate(ctx context.Context, sessionKey string) error {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("is_active", false).
		Where(squirrel.Eq{"session_key": sessionKey}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return requireAffected(tag)
}

// DeactivateAllForUser marks every active session of the user inactive.
func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	stmt, args, err := r.builder.Update(sessionsTable).
		Set("is_active", false).
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate user sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
