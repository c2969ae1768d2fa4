package account

import (
	"context"

	"yers.dev/account/internal/idp"
)

// SessionGateway is the token-endpoint subset used for end-user sessions.
type SessionGateway interface {
	PasswordLogin(ctx context.Context, email, password string) (idp.TokenPair, error)
	RefreshLogin(ctx context.Context, refreshToken string) (idp.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// SessionService is a stateless pass-through for end-user login, refresh and
// logout against the IdP token endpoint. It keeps no local state and never
// touches the sync engine.
type SessionService struct {
	gateway SessionGateway
}

func NewSessionService(gateway SessionGateway) *SessionService {
	return &SessionService{gateway: gateway}
}

// Login authenticates end-user credentials via the password grant.
func (s *SessionService) Login(ctx context.Context, email, password string) (idp.TokenPair, error) {
	return s.gateway.PasswordLogin(ctx, email, password)
}

// Refresh rotates the session token pair.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (idp.TokenPair, error) {
	return s.gateway.RefreshLogin(ctx, refreshToken)
}

// Logout revokes the refresh token at the IdP.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	return s.gateway.Logout(ctx, refreshToken)
}
