package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// VerificationTokenRepository implements port.VerificationTokenRepository using PostgreSQL.
type VerificationTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewVerificationTokenRepository constructs a new verification token repository.
func NewVerificationTokenRepository(exec pgExecutor) *VerificationTokenRepository {
	return &VerificationTokenRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *VerificationTokenRepository) WithTx(tx pgx.Tx) *VerificationTokenRepository {
	if tx == nil {
		return r
	}
	return &VerificationTokenRepository{exec: tx, builder: r.builder}
}

// Create inserts a new verification token record.
func (r *VerificationTokenRepository) Create(ctx context.Context, token domain.VerificationToken) error {
	stmt, args, err := r.builder.Insert(tokensTable).
		Columns(
			"id",
			"user_id",
			"code_hash",
			"purpose",
			"expires_at",
			"is_used",
			"attempts",
			"created_at",
		).
		Values(
			token.ID,
			token.UserID,
			token.CodeHash,
			string(token.Purpose),
			token.ExpiresAt,
			token.IsUsed,
			token.Attempts,
			token.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert verification token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert verification token", err)
	}
	return nil
}

// DeleteUnused removes every unconsumed code the user holds for the purpose.
func (r *VerificationTokenRepository) DeleteUnused(ctx context.Context, userID string, purpose domain.TokenPurpose) (int64, error) {
	stmt, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.Eq{
			"user_id": userID,
			"purpose": string(purpose),
			"is_used": false,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete unused tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete unused tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindActive returns the newest unconsumed token matching the code hash and purpose.
// Expiry and attempt limits are left to the caller.
func (r *VerificationTokenRepository) FindActive(ctx context.Context, userID, codeHash string, purpose domain.TokenPurpose) (*domain.VerificationToken, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"code_hash",
		"purpose",
		"expires_at",
		"is_used",
		"attempts",
		"created_at",
		"used_at",
	).
		From(tokensTable).
		Where(squirrel.Eq{
			"user_id":   userID,
			"code_hash": codeHash,
			"purpose":   string(purpose),
			"is_used":   false,
		}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select verification token sql: %w", err)
	}

	var (
		token      domain.VerificationToken
		purposeRaw string
		usedAt     sql.NullTime
	)
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.CodeHash,
		&purposeRaw,
		&token.ExpiresAt,
		&token.IsUsed,
		&token.Attempts,
		&token.CreatedAt,
		&usedAt,
	)
	if err != nil {
		return nil, mapReadError("select verification token", err)
	}

	token.Purpose = domain.TokenPurpose(purposeRaw)
	token.UsedAt = timePtr(usedAt)
	return &token, nil
}

// IncrementAttempts bumps the failed-guess counter of the user's unconsumed codes for the purpose.
func (r *VerificationTokenRepository) IncrementAttempts(ctx context.Context, userID string, purpose domain.TokenPurpose) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{
			"user_id": userID,
			"purpose": string(purpose),
			"is_used": false,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build increment attempts sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// MarkUsed consumes a token that is still valid at the given time. Tokens that
// were consumed, expired or exhausted their attempts meanwhile are reported as
// not found.
func (r *VerificationTokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("is_used", true).
		Set("used_at", at).
		Where(squirrel.Eq{"id": id, "is_used": false}).
		Where(squirrel.Lt{"attempts": domain.MaxTokenAttempts}).
		Where(squirrel.GtOrEq{"expires_at": at}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark token used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	return requireAffected(tag)
}

// LatestCreatedAt returns when the newest code for the purpose was issued.
func (r *VerificationTokenRepository) LatestCreatedAt(ctx context.Context, userID string, purpose domain.TokenPurpose) (time.Time, bool, error) {
	stmt, args, err := r.builder.Select("created_at").
		From(tokensTable).
		Where(squirrel.Eq{"user_id": userID, "purpose": string(purpose)}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build latest token sql: %w", err)
	}

	var createdAt time.Time
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("select latest token: %w", err)
	}
	return createdAt, true, nil
}

// DeleteExpired purges codes whose expiry is before the cutoff.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.Lt{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
