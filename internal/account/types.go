package account

import "time"

// Account is the local profile record. Profile fields are mastered locally
// and mirrored to the identity provider; credentials never touch this store.
// IdPSubject is the sole cross-reference between the two systems and is set
// if and only if registration with the IdP completed.
type Account struct {
	ID          string
	IdPSubject  string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
	Active      bool
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
	UpdatedBy   string
}

// Profile carries the caller-mutable subset of Account fields.
type Profile struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}
