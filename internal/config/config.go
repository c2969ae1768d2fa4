package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process configuration. It is read from the environment
// once at startup and treated as immutable afterwards.
type Config struct {
	// HTTP server
	ListenAddr string

	// Database
	PGDSN string

	// Identity provider
	IdPBaseURL string
	IdPRealm   string

	// Admin (service-to-service) client. When AdminUsername is set the
	// resource-owner password grant is used, otherwise client_credentials.
	AdminClientID     string
	AdminClientSecret string
	AdminUsername     string
	AdminPassword     string

	// End-user client used for login/refresh/logout.
	ClientID     string
	ClientSecret string

	// Outbound call behavior
	IdPTimeout         time.Duration
	TokenSafetyMargin  time.Duration
	SyncDeactivation   bool

	// Rate limiting (per client IP)
	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads Config from the environment. Missing required variables are
// reported together in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envDefault("ACCOUNT_HTTP_ADDR", ":8080"),
		IdPTimeout:         10 * time.Second,
		TokenSafetyMargin:  30 * time.Second,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}

	var missing []string
	required := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	cfg.PGDSN = required("ACCOUNT_PG_DSN")
	cfg.IdPBaseURL = strings.TrimRight(required("ACCOUNT_IDP_URL"), "/")
	cfg.IdPRealm = required("ACCOUNT_IDP_REALM")
	cfg.AdminClientID = required("ACCOUNT_IDP_ADMIN_CLIENT_ID")
	cfg.AdminClientSecret = required("ACCOUNT_IDP_ADMIN_CLIENT_SECRET")
	cfg.ClientID = required("ACCOUNT_IDP_CLIENT_ID")
	cfg.ClientSecret = required("ACCOUNT_IDP_CLIENT_SECRET")

	// Optional resource-owner admin credentials.
	cfg.AdminUsername = strings.TrimSpace(os.Getenv("ACCOUNT_IDP_ADMIN_USERNAME"))
	cfg.AdminPassword = os.Getenv("ACCOUNT_IDP_ADMIN_PASSWORD")

	if v := os.Getenv("ACCOUNT_IDP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ACCOUNT_IDP_TIMEOUT: %w", err)
		}
		cfg.IdPTimeout = d
	}
	if v := os.Getenv("ACCOUNT_TOKEN_SAFETY_MARGIN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ACCOUNT_TOKEN_SAFETY_MARGIN: %w", err)
		}
		cfg.TokenSafetyMargin = d
	}
	if v := os.Getenv("ACCOUNT_IDP_SYNC_DEACTIVATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ACCOUNT_IDP_SYNC_DEACTIVATION: %w", err)
		}
		cfg.SyncDeactivation = b
	}
	if v := os.Getenv("ACCOUNT_RATE_LIMIT_RPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid ACCOUNT_RATE_LIMIT_RPS: %q", v)
		}
		cfg.RateLimitPerSecond = n
	}
	if v := os.Getenv("ACCOUNT_RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid ACCOUNT_RATE_LIMIT_BURST: %q", v)
		}
		cfg.RateLimitBurst = n
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// TokenEndpointBase returns the OIDC protocol base for the configured realm.
func (c *Config) TokenEndpointBase() string {
	return c.IdPBaseURL + "/realms/" + c.IdPRealm + "/protocol/openid-connect"
}

// AdminEndpointBase returns the admin API base for the configured realm.
func (c *Config) AdminEndpointBase() string {
	return c.IdPBaseURL + "/admin/realms/" + c.IdPRealm
}

func envDefault(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
