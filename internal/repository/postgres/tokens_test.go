package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/repository"
)

func TestVerificationTokenRepository_FindActive(t *testing.T) {
	mock := newMockPool(t)
	repo := NewVerificationTokenRepository(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "user_id", "code_hash", "purpose", "expires_at", "is_used", "attempts", "created_at", "used_at",
	}).AddRow("tok-1", "user-1", "hash", "login_2fa", now.Add(time.Hour), false, 1, now, nil)

	// squirrel.Eq renders its keys in sorted order.
	mock.ExpectQuery(`SELECT .* FROM auth\.email_verification_tokens WHERE code_hash = \$1 AND is_used = \$2 AND purpose = \$3 AND user_id = \$4 ORDER BY created_at DESC LIMIT 1`).
		WithArgs("hash", false, "login_2fa", "user-1").
		WillReturnRows(rows)

	token, err := repo.FindActive(context.Background(), "user-1", "hash", domain.PurposeLogin2FA)
	if err != nil {
		t.Fatalf("FindActive returned error: %v", err)
	}
	if token.Purpose != domain.PurposeLogin2FA || token.Attempts != 1 || token.UsedAt != nil {
		t.Fatalf("unexpected token: %+v", token)
	}
}

func TestVerificationTokenRepository_FindActiveMissing(t *testing.T) {
	mock := newMockPool(t)
	repo := NewVerificationTokenRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM auth\.email_verification_tokens`).
		WithArgs("nope", false, "email_verification", "user-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindActive(context.Background(), "user-1", "nope", domain.PurposeEmailVerification)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerificationTokenRepository_DeleteUnused(t *testing.T) {
	mock := newMockPool(t)
	repo := NewVerificationTokenRepository(mock)

	mock.ExpectExec(`DELETE FROM auth\.email_verification_tokens WHERE is_used = \$1 AND purpose = \$2 AND user_id = \$3`).
		WithArgs(false, "email_verification", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	deleted, err := repo.DeleteUnused(context.Background(), "user-1", domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("DeleteUnused returned error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", deleted)
	}
}

func TestVerificationTokenRepository_MarkUsedTwice(t *testing.T) {
	mock := newMockPool(t)
	repo := NewVerificationTokenRepository(mock)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE auth\.email_verification_tokens SET is_used = \$1, used_at = \$2 WHERE id = \$3 AND is_used = \$4 AND attempts < \$5 AND expires_at >= \$6`).
		WithArgs(true, now, "tok-1", false, domain.MaxTokenAttempts, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE auth\.email_verification_tokens`).
		WithArgs(true, now, "tok-1", false, domain.MaxTokenAttempts, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.MarkUsed(context.Background(), "tok-1", now); err != nil {
		t.Fatalf("first MarkUsed returned error: %v", err)
	}
	if err := repo.MarkUsed(context.Background(), "tok-1", now); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected second MarkUsed to report ErrNotFound, got %v", err)
	}
}

func TestVerificationTokenRepository_LatestCreatedAtNone(t *testing.T) {
	mock := newMockPool(t)
	repo := NewVerificationTokenRepository(mock)

	mock.ExpectQuery(`SELECT created_at FROM auth\.email_verification_tokens`).
		WithArgs("email_verification", "user-1").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := repo.LatestCreatedAt(context.Background(), "user-1", domain.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("LatestCreatedAt returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no previous token")
	}
}
