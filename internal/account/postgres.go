package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"yers.dev/account/internal/audit"
	"yers.dev/account/internal/ids"
)

const uniqueViolation = "23505"

// system is recorded in audit columns when no actor is attached to the context.
const system = "system"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// PGStoreOption configures PGStore.
type PGStoreOption func(*PGStore)

// WithStoreClock overrides the time source used for audit timestamps.
func WithStoreClock(fn func() time.Time) PGStoreOption {
	return func(s *PGStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewPGStore(db *sql.DB, opts ...PGStoreOption) *PGStore {
	s := &PGStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const accountColumns = `id, idp_subject, email, first_name, last_name, phone_number, is_active, created_at, created_by, updated_at, updated_by`

func (s *PGStore) FindByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *PGStore) FindByIdPSubject(ctx context.Context, subject string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where idp_subject=$1`, subject)
	return scanAccount(row)
}

func (s *PGStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(
			&a.ID, &a.IdPSubject, &a.Email, &a.FirstName, &a.LastName, &a.PhoneNumber,
			&a.Active, &a.CreatedAt, &a.CreatedBy, &a.UpdatedAt, &a.UpdatedBy,
		); err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, rows.Err()
}

// Save inserts or updates the row. An account without an IdP subject never
// reaches the table: it would represent a failed or in-flight registration.
func (s *PGStore) Save(ctx context.Context, a *Account) error {
	if a.IdPSubject == "" {
		return fmt.Errorf("%w: missing idp subject", ErrInvalidInput)
	}
	actor := system
	if v, ok := audit.ActorFromContext(ctx); ok {
		actor = v
	}
	now := s.now().UTC()

	if a.ID == "" {
		a.ID = ids.New()
		a.CreatedAt = now
		a.CreatedBy = actor
		a.UpdatedAt = now
		a.UpdatedBy = actor
		_, err := s.db.ExecContext(ctx,
			`insert into accounts(`+accountColumns+`)
			 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			a.ID, a.IdPSubject, a.Email, a.FirstName, a.LastName, a.PhoneNumber,
			a.Active, a.CreatedAt, a.CreatedBy, a.UpdatedAt, a.UpdatedBy,
		)
		return translateConflict(err)
	}

	a.UpdatedAt = now
	a.UpdatedBy = actor
	res, err := s.db.ExecContext(ctx,
		`update accounts
		 set idp_subject=$2, email=$3, first_name=$4, last_name=$5, phone_number=$6,
		     is_active=$7, updated_at=$8, updated_by=$9
		 where id=$1`,
		a.ID, a.IdPSubject, a.Email, a.FirstName, a.LastName, a.PhoneNumber,
		a.Active, a.UpdatedAt, a.UpdatedBy,
	)
	if err != nil {
		return translateConflict(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.IdPSubject, &a.Email, &a.FirstName, &a.LastName, &a.PhoneNumber,
		&a.Active, &a.CreatedAt, &a.CreatedBy, &a.UpdatedAt, &a.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func translateConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
