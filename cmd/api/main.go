package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"yers.dev/account/internal/account"
	"yers.dev/account/internal/config"
	"yers.dev/account/internal/httpapi"
	"yers.dev/account/internal/idp"
	"yers.dev/account/internal/obs"
)

var version = "0.3.1"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ACCOUNT_BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	idpHTTP := &http.Client{Timeout: cfg.IdPTimeout}

	tokens := idp.NewTokenSource(
		cfg.TokenEndpointBase()+"/token",
		idp.AdminCredentials{
			ClientID:     cfg.AdminClientID,
			ClientSecret: cfg.AdminClientSecret,
			Username:     cfg.AdminUsername,
			Password:     cfg.AdminPassword,
		},
		idp.WithSafetyMargin(cfg.TokenSafetyMargin),
		idp.WithTokenHTTPClient(idpHTTP),
	)

	gateway := idp.NewClient(
		cfg.AdminEndpointBase(),
		cfg.TokenEndpointBase(),
		tokens,
		idp.WithHTTPClient(idpHTTP),
		idp.WithUserClient(cfg.ClientID, cfg.ClientSecret),
	)

	store := account.NewPGStore(db)
	accounts := account.NewService(store, gateway,
		account.WithDeactivationSync(cfg.SyncDeactivation),
	)
	sessions := account.NewSessionService(gateway)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, accounts, sessions, version,
		httpapi.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting account-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
