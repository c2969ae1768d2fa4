package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"yers.dev/account/internal/account"
	"yers.dev/account/internal/idp"
	"yers.dev/account/internal/obs"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	accounts *account.Service
	sessions *account.SessionService

	rateLimitPerSecond int
	rateLimitBurst     int
}

// Option configures the API.
type Option func(*API)

// WithRateLimit overrides the per-IP rate limit applied in Handler.
func WithRateLimit(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.rateLimitPerSecond = perSecond
			a.rateLimitBurst = burst
		}
	}
}

func New(rp ReadyProbe, accounts *account.Service, sessions *account.SessionService, version string, opts ...Option) *API {
	a := &API{
		mux:                http.NewServeMux(),
		readyProbe:         rp,
		version:            version,
		accounts:           accounts,
		sessions:           sessions,
		rateLimitPerSecond: 20,
		rateLimitBurst:     40,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// auth session flows
	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)

	// account lifecycle and reads
	a.mux.HandleFunc("GET /v1/accounts", a.handleListAccounts)
	a.mux.HandleFunc("GET /v1/accounts/by-email", a.handleGetByEmail)
	a.mux.HandleFunc("GET /v1/accounts/subject/{subject}", a.handleGetBySubject)
	a.mux.HandleFunc("PUT /v1/accounts/{id}", a.handleUpdateAccount)
	a.mux.HandleFunc("POST /v1/accounts/{id}/activate", a.handleActivate)
	a.mux.HandleFunc("POST /v1/accounts/{id}/deactivate", a.handleDeactivate)
	a.mux.HandleFunc("DELETE /v1/accounts", a.handleDeleteAccount)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (уже обёрнутый middleware).
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateLimitBurst, a.rateLimitPerSecond)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "account-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "account-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondServiceError maps the error taxonomy onto HTTP statuses. The
// services never translate their own errors; this is the only place where
// the mapping happens.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, account.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, account.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, idp.ErrTokenAcquisition):
		writeError(w, http.StatusServiceUnavailable, "token_acquisition_failed", err.Error())
	default:
		var delErr *idp.DeletionError
		if errors.As(err, &delErr) {
			writeError(w, http.StatusBadGateway, "idp_deletion_failed", err.Error())
			return
		}
		var callErr *idp.CallError
		if errors.As(err, &callErr) {
			writeError(w, http.StatusBadGateway, "idp_call_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
