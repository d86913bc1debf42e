package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
)

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	mock := newMockPool(t)
	repos := NewRepositories(mock)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO auth\.user_profiles`).
		WithArgs("user-1", "", "", "", pgxmock.AnyArg(), "pt-br", "America/Sao_Paulo", true, true, false, "public", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repos.Tx.WithinTx(context.Background(), func(ctx context.Context, _ port.UserRepository, profiles port.ProfileRepository) error {
		return profiles.Create(ctx, domain.NewDefaultProfile("user-1", now))
	})
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	mock := newMockPool(t)
	repos := NewRepositories(mock)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repos.Tx.WithinTx(context.Background(), func(context.Context, port.UserRepository, port.ProfileRepository) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_GetByKeyDecodesDeviceInfo(t *testing.T) {
	mock := newMockPool(t)
	repo := NewSessionRepository(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "user_id", "session_key", "ip_address", "user_agent", "device_info", "is_active", "created_at", "last_activity", "country", "city",
	}).AddRow("s-1", "user-1", "jti-1", "203.0.113.7", "UA", []byte(`{"browser":"Firefox","os":"Linux","is_desktop":true}`), true, now, now, "BR", "Recife")

	mock.ExpectQuery(`SELECT .* FROM auth\.user_sessions WHERE session_key = \$1`).
		WithArgs("jti-1").
		WillReturnRows(rows)

	session, err := repo.GetByKey(context.Background(), "jti-1")
	if err != nil {
		t.Fatalf("GetByKey returned error: %v", err)
	}
	if session.DeviceInfo.Browser != "Firefox" || !session.DeviceInfo.IsDesktop {
		t.Fatalf("unexpected device info: %+v", session.DeviceInfo)
	}
}

func TestLoginAttemptRepository_ListRecentByEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLoginAttemptRepository(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "email", "ip_address", "user_agent", "success", "failure_reason", "timestamp", "country", "city",
	}).
		AddRow("a-2", "ana@example.com", "203.0.113.7", "UA", false, "Invalid password", now, "", "").
		AddRow("a-1", "ana@example.com", "203.0.113.7", "UA", true, "", now.Add(-time.Minute), "BR", "Recife")

	mock.ExpectQuery(`SELECT .* FROM auth\.login_attempts WHERE email = \$1 ORDER BY timestamp DESC LIMIT 50`).
		WithArgs("ana@example.com").
		WillReturnRows(rows)

	attempts, err := repo.ListRecentByEmail(context.Background(), "ana@example.com", 50)
	if err != nil {
		t.Fatalf("ListRecentByEmail returned error: %v", err)
	}
	if len(attempts) != 2 || attempts[0].ID != "a-2" || attempts[0].Success {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
}
