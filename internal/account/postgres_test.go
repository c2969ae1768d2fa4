package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"yers.dev/account/internal/audit"
)

var storeColumns = []string{
	"id", "idp_subject", "email", "first_name", "last_name", "phone_number",
	"is_active", "created_at", "created_by", "updated_at", "updated_by",
}

func accountRow(a Account) *sqlmock.Rows {
	return sqlmock.NewRows(storeColumns).AddRow(
		a.ID, a.IdPSubject, a.Email, a.FirstName, a.LastName, a.PhoneNumber,
		a.Active, a.CreatedAt, a.CreatedBy, a.UpdatedAt, a.UpdatedBy,
	)
}

func TestPGStoreFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select .* from accounts where email=").
		WithArgs("jane@example.com").
		WillReturnRows(accountRow(Account{
			ID: "acc-1", IdPSubject: "subj-1", Email: "jane@example.com",
			FirstName: "Jane", Active: true,
			CreatedAt: now, CreatedBy: "system", UpdatedAt: now, UpdatedBy: "system",
		}))

	store := NewPGStore(db)
	acct, err := store.FindByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acct.ID != "acc-1" || acct.IdPSubject != "subj-1" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreFindByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from accounts where id=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := NewPGStore(db)
	if _, err := store.FindByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreSaveInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into accounts").
		WithArgs(sqlmock.AnyArg(), "subj-1", "jane@example.com", "Jane", "Doe", "+79991234567",
			true, now, "registration-api", now, "registration-api").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db, WithStoreClock(func() time.Time { return now }))
	ctx := audit.WithActor(context.Background(), "registration-api")
	acct := &Account{
		IdPSubject:  "subj-1",
		Email:       "jane@example.com",
		FirstName:   "Jane",
		LastName:    "Doe",
		PhoneNumber: "+79991234567",
		Active:      true,
	}
	if err := store.Save(ctx, acct); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected generated id")
	}
	if acct.CreatedBy != "registration-api" || acct.UpdatedBy != "registration-api" {
		t.Fatalf("unexpected audit fields: %+v", acct)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSaveInsertDefaultsActorToSystem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into accounts").
		WithArgs(sqlmock.AnyArg(), "subj-1", "jane@example.com", "", "", "",
			true, sqlmock.AnyArg(), "system", sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	acct := &Account{IdPSubject: "subj-1", Email: "jane@example.com", Active: true}
	if err := store.Save(context.Background(), acct); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSaveRejectsMissingSubject(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	err = store.Save(context.Background(), &Account{Email: "jane@example.com"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPGStoreSaveUniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	store := NewPGStore(db)
	err = store.Save(context.Background(), &Account{IdPSubject: "subj-1", Email: "jane@example.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGStoreSaveUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts").
		WithArgs("acc-1", "subj-1", "jane@example.com", "Jane", "Doe", "",
			false, sqlmock.AnyArg(), "system").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	acct := &Account{
		ID: "acc-1", IdPSubject: "subj-1", Email: "jane@example.com",
		FirstName: "Jane", LastName: "Doe", Active: false,
	}
	if err := store.Save(context.Background(), acct); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSaveUpdateMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	err = store.Save(context.Background(), &Account{ID: "gone", IdPSubject: "subj-1", Email: "x@example.com"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("delete from accounts where id=").
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	if err := store.Delete(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	mock.ExpectExec("delete from accounts where id=").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Delete(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(storeColumns).
		AddRow("acc-1", "subj-1", "a@example.com", "", "", "", true, now, "system", now, "system").
		AddRow("acc-2", "subj-2", "b@example.com", "", "", "", false, now, "system", now, "system")
	mock.ExpectQuery("select .* from accounts order by created_at").
		WillReturnRows(rows)

	store := NewPGStore(db)
	accounts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[1].ID != "acc-2" || accounts[1].Active {
		t.Fatalf("unexpected second account: %+v", accounts[1])
	}
}
