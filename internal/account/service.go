package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nyaruka/phonenumbers"

	"yers.dev/account/internal/audit"
	"yers.dev/account/internal/idp"
)

// Gateway is the subset of the IdP client the sync engine depends on. The
// engine is the only component allowed to mutate IdP user objects.
type Gateway interface {
	CreateUser(ctx context.Context, payload idp.UserPayload) (string, error)
	UpdateUser(ctx context.Context, subject string, payload idp.UserPayload) error
	DeleteUser(ctx context.Context, subject string) error
	PasswordLogin(ctx context.Context, email, password string) (idp.TokenPair, error)
}

// Service executes the cross-system account lifecycle. The local store and
// the IdP cannot be updated in one transaction, so every operation has a
// fixed ordering and a documented recovery policy; none of the errors from
// the dependencies are swallowed or retried here.
type Service struct {
	store   Store
	gateway Gateway
	now     func() time.Time

	// when set, deactivation/reactivation also flips the IdP enabled flag
	syncDeactivation bool
	phoneRegion      string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithDeactivationSync mirrors Activate/Deactivate to the IdP enabled flag.
// By default only the local flag is flipped and the IdP user stays enabled.
func WithDeactivationSync(enabled bool) ServiceOption {
	return func(s *Service) { s.syncDeactivation = enabled }
}

// WithPhoneRegion sets the default region for parsing national phone
// numbers. International numbers with a leading + always parse.
func WithPhoneRegion(region string) ServiceOption {
	return func(s *Service) {
		if region != "" {
			s.phoneRegion = region
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the sync engine.
func NewService(store Store, gateway Gateway, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		gateway:     gateway,
		now:         time.Now,
		phoneRegion: "ZZ",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the identity at the IdP first, then the local row, then
// performs the initial login so registration and login are one call for the
// caller. There is no partial success: either all three stages complete or
// the returned error identifies the stage that failed. A local-store failure
// after the IdP accepted the user leaves an orphaned IdP identity; that
// window is recorded in the audit log instead of auto-deleting the remote
// user, since the remote failure may be a transient local outage the caller
// will retry.
func (s *Service) Register(ctx context.Context, profile Profile, password string) (*Account, idp.TokenPair, error) {
	profile, err := s.normalize(profile)
	if err != nil {
		return nil, idp.TokenPair{}, err
	}
	if password == "" {
		return nil, idp.TokenPair{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	// Same-account pre-check so an obvious duplicate never reaches the IdP.
	if _, err := s.store.FindByEmail(ctx, profile.Email); err == nil {
		return nil, idp.TokenPair{}, fmt.Errorf("%w: email %s", ErrConflict, profile.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, idp.TokenPair{}, err
	}

	payload := userPayload(profile, true)
	payload.Credentials = []idp.Credential{{Type: "password", Value: password, Temporary: false}}

	subject, err := s.gateway.CreateUser(ctx, payload)
	if err != nil {
		return nil, idp.TokenPair{}, err
	}

	// The remote identity now exists. The remaining steps must run even if
	// the enclosing request was cancelled, otherwise the attempt leaves no
	// local trace at all.
	ctx = context.WithoutCancel(ctx)

	acct := &Account{
		IdPSubject:  subject,
		Email:       profile.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		PhoneNumber: profile.PhoneNumber,
		Active:      true,
	}
	if err := s.store.Save(ctx, acct); err != nil {
		_ = audit.LogEvent(ctx, "account.register.orphaned_idp_user", map[string]any{
			"idp_subject": subject,
			"email":       profile.Email,
			"error":       err.Error(),
		})
		return nil, idp.TokenPair{}, fmt.Errorf("account: local create after idp registration: %w", err)
	}

	pair, err := s.gateway.PasswordLogin(ctx, profile.Email, password)
	if err != nil {
		return nil, idp.TokenPair{}, fmt.Errorf("account: initial login after registration: %w", err)
	}

	_ = audit.LogEvent(ctx, "account.registered", map[string]any{
		"account_id":  acct.ID,
		"idp_subject": subject,
	})
	return acct, pair, nil
}

// UpdateProfile pushes the new profile to the IdP first; the local row is
// only touched after the remote accepted the full replacement, so local data
// never advances beyond the IdP's.
func (s *Service) UpdateProfile(ctx context.Context, id string, profile Profile) (*Account, error) {
	acct, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile, err = s.normalize(profile)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.UpdateUser(ctx, acct.IdPSubject, userPayload(profile, acct.Active)); err != nil {
		return nil, err
	}

	acct.Email = profile.Email
	acct.FirstName = profile.FirstName
	acct.LastName = profile.LastName
	acct.PhoneNumber = profile.PhoneNumber
	if err := s.store.Save(ctx, acct); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "account.updated", map[string]any{"account_id": acct.ID})
	return acct, nil
}

// Activate re-enables the account flag.
func (s *Service) Activate(ctx context.Context, id string) (*Account, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate flips the local flag. Unless deactivation sync is enabled the
// IdP user stays enabled and can still obtain tokens directly.
func (s *Service) Deactivate(ctx context.Context, id string) (*Account, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (*Account, error) {
	acct, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Active == active {
		return acct, nil
	}
	if s.syncDeactivation {
		payload := userPayload(Profile{
			Email:       acct.Email,
			FirstName:   acct.FirstName,
			LastName:    acct.LastName,
			PhoneNumber: acct.PhoneNumber,
		}, active)
		if err := s.gateway.UpdateUser(ctx, acct.IdPSubject, payload); err != nil {
			return nil, err
		}
	}
	acct.Active = active
	if err := s.store.Save(ctx, acct); err != nil {
		return nil, err
	}
	event := "account.deactivated"
	if active {
		event = "account.activated"
	}
	_ = audit.LogEvent(ctx, event, map[string]any{"account_id": acct.ID})
	return acct, nil
}

// DeleteByEmail removes the remote identity first. When the IdP deletion
// fails the local row is kept untouched as the last-known state; a dangling
// IdP identity with no local trace can never occur.
func (s *Service) DeleteByEmail(ctx context.Context, email string) error {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.delete(ctx, acct)
}

// DeleteByIdPSubject deletes via the IdP-issued subject identifier.
func (s *Service) DeleteByIdPSubject(ctx context.Context, subject string) error {
	acct, err := s.store.FindByIdPSubject(ctx, subject)
	if err != nil {
		return err
	}
	return s.delete(ctx, acct)
}

func (s *Service) delete(ctx context.Context, acct *Account) error {
	if err := s.gateway.DeleteUser(ctx, acct.IdPSubject); err != nil {
		return err
	}
	// Remote identity is gone; finish locally even on request cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, acct.ID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "account.deleted", map[string]any{
		"account_id":  acct.ID,
		"idp_subject": acct.IdPSubject,
	})
	return nil
}

// GetByEmail loads an account by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.store.FindByEmail(ctx, email)
}

// GetByIdPSubject loads an account by its IdP subject identifier.
func (s *Service) GetByIdPSubject(ctx context.Context, subject string) (*Account, error) {
	return s.store.FindByIdPSubject(ctx, subject)
}

// List returns all accounts ordered by creation time.
func (s *Service) List(ctx context.Context) ([]*Account, error) {
	return s.store.List(ctx)
}

// --- helpers ---

func (s *Service) normalize(p Profile) (Profile, error) {
	if p.Email == "" {
		return Profile{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if p.PhoneNumber != "" {
		num, err := phonenumbers.Parse(p.PhoneNumber, s.phoneRegion)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: phone number %q: %v", ErrInvalidInput, p.PhoneNumber, err)
		}
		p.PhoneNumber = phonenumbers.Format(num, phonenumbers.E164)
	}
	return p, nil
}

func userPayload(p Profile, enabled bool) idp.UserPayload {
	payload := idp.UserPayload{
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		EmailVerified: true,
		Enabled:       enabled,
	}
	if p.PhoneNumber != "" {
		payload.Attributes = map[string][]string{"phoneNumber": {p.PhoneNumber}}
	}
	return payload
}
