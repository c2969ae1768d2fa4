package httpapi

import (
	"net/http"
	"strings"
	"time"

	"yers.dev/account/internal/account"
)

type accountResponse struct {
	ID          string    `json:"id"`
	IdPSubject  string    `json:"idpSubject"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type updateAccountRequest struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

func toAccountResponse(a *account.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		IdPSubject:  a.IdPSubject,
		Email:       a.Email,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		PhoneNumber: a.PhoneNumber,
		IsActive:    a.Active,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.accounts.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	res := make([]accountResponse, 0, len(accounts))
	for _, acct := range accounts {
		res = append(res, toAccountResponse(acct))
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email query parameter is required")
		return
	}
	acct, err := a.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (a *API) handleGetBySubject(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	acct, err := a.accounts.GetByIdPSubject(r.Context(), subject)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (a *API) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateAccountRequest
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
	acct, err := a.accounts.UpdateProfile(r.Context(), id, profile)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	acct, err := a.accounts.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	acct, err := a.accounts.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email query parameter is required")
		return
	}
	if err := a.accounts.DeleteByEmail(r.Context(), email); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
