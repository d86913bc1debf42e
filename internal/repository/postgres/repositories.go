package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marioluccio/sobreando/internal/core/port"
)

type txBeginner interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Users         *UserRepository
	Profiles      *ProfileRepository
	Tokens        *VerificationTokenRepository
	LoginAttempts *LoginAttemptRepository
	Sessions      *SessionRepository
	Tx            *Transactor
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool txBeginner) *Repositories {
	users := NewUserRepository(pool)
	profiles := NewProfileRepository(pool)
	return &Repositories{
		Users:         users,
		Profiles:      profiles,
		Tokens:        NewVerificationTokenRepository(pool),
		LoginAttempts: NewLoginAttemptRepository(pool),
		Sessions:      NewSessionRepository(pool),
		Tx:            NewTransactor(pool, users, profiles),
	}
}

// Transactor implements port.Transactor over a pgx pool.
type Transactor struct {
	pool     txBeginner
	users    *UserRepository
	profiles *ProfileRepository
}

// NewTransactor builds a transactor that rebinds the given repositories to each transaction.
func NewTransactor(pool txBeginner, users *UserRepository, profiles *ProfileRepository) *Transactor {
	return &Transactor{pool: pool, users: users, profiles: profiles}
}

// WithinTx commits when fn succeeds and rolls back otherwise.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, users port.UserRepository, profiles port.ProfileRepository) error) (err error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
	}()

	if err = fn(ctx, t.users.WithTx(tx), t.profiles.WithTx(tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
