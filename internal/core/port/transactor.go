package port

import "context"

// Transactor runs fn inside a single database transaction, handing it repositories bound to that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, users UserRepository, profiles ProfileRepository) error) error
}
