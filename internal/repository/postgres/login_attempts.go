package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// LoginAttemptRepository stores the append-only login audit trail.
type LoginAttemptRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewLoginAttemptRepository constructs a login attempt repository.
func NewLoginAttemptRepository(exec pgExecutor) *LoginAttemptRepository {
	return &LoginAttemptRepository{exec: exec, builder: newBuilder()}
}

// Create appends an attempt.
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt domain.LoginAttempt) error {
	stmt, args, err := r.builder.Insert(loginAttemptsTable).
		Columns(
			"id",
			"email",
			"ip_address",
			"user_agent",
			"success",
			"failure_reason",
			"timestamp",
			"country",
			"city",
		).
		Values(
			attempt.ID,
			attempt.Email,
			attempt.IPAddress,
			attempt.UserAgent,
			attempt.Success,
			attempt.FailureReason,
			attempt.Timestamp,
			attempt.Country,
			attempt.City,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert login attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// CountByEmail counts every attempt recorded for the email.
func (r *LoginAttemptRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	return r.count(ctx, squirrel.Eq{"email": email})
}

// CountByEmailSince counts attempts for the email at or after since.
func (r *LoginAttemptRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	return r.count(ctx, squirrel.And{
		squirrel.Eq{"email": email},
		squirrel.GtOrEq{"timestamp": since},
	})
}

func (r *LoginAttemptRepository) count(ctx context.Context, where squirrel.Sqlizer) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").
		From(loginAttemptsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count login attempts sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count login attempts: %w", err)
	}
	return count, nil
}

// ListRecentByEmail returns the newest attempts for the email, newest first.
func (r *LoginAttemptRepository) ListRecentByEmail(ctx context.Context, email string, limit int) ([]domain.LoginAttempt, error) {
	query := r.builder.Select(
		"id",
		"email",
		"ip_address",
		"user_agent",
		"success",
		"failure_reason",
		"timestamp",
		"country",
		"city",
	).
		From(loginAttemptsTable).
		Where(squirrel.Eq{"email": email}).
		OrderBy("timestamp DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list login attempts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.LoginAttempt, 0)
	for rows.Next() {
		var attempt domain.LoginAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.Email,
			&attempt.IPAddress,
			&attempt.UserAgent,
			&attempt.Success,
			&attempt.FailureReason,
			&attempt.Timestamp,
			&attempt.Country,
			&attempt.City,
		); err != nil {
			return nil, fmt.Errorf("scan login attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login attempts: %w", err)
	}

	return attempts, nil
}
