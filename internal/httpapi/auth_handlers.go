package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"yers.dev/account/internal/account"
	"yers.dev/account/internal/idp"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

type registerResponse struct {
	Account accountResponse `json:"account"`
	Tokens  idp.TokenPair   `json:"tokens"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	profile := account.Profile{
		Email:       strings.TrimSpace(strings.ToLower(req.Email)),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
	}
	acct, pair, err := a.accounts.Register(r.Context(), profile, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Account: toAccountResponse(acct),
		Tokens:  pair,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}
	pair, err := a.sessions.Login(r.Context(), email, req.Password)
	if err != nil {
		respondCredentialError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "refreshToken is required")
		return
	}
	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondCredentialError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "refreshToken is required")
		return
	}
	if err := a.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondCredentialError hides upstream 4xx details on token flows behind a
// generic unauthorized response; everything else follows the normal mapping.
func respondCredentialError(w http.ResponseWriter, err error) {
	var callErr *idp.CallError
	if errors.As(err, &callErr) && callErr.Status >= 400 && callErr.Status < 500 {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	respondServiceError(w, err)
}
