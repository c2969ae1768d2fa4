package account

import "context"

// Store is CRUD over the accounts table. It owns audit-field population and
// has no identity-provider awareness. Lookups return ErrNotFound for absent
// rows; uniqueness violations surface as ErrConflict.
type Store interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByIdPSubject(ctx context.Context, subject string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)

	// Save inserts the account when ID is empty (assigning the surrogate
	// key) and updates it otherwise. Audit timestamps are written by the
	// store, never by the caller.
	Save(ctx context.Context, a *Account) error

	Delete(ctx context.Context, id string) error
}
