// Package main provisions password accounts on the self-hosted identity
// backend: it registers the account in PostgreSQL and writes the users (and,
// for admins, admin) documents to the configured document store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"uolems/internal/config"
	"uolems/internal/database"
	"uolems/internal/docstore"
	"uolems/internal/docstore/fsstore"
	"uolems/internal/docstore/pgstore"
	"uolems/internal/identity/local"
	"uolems/internal/model"
	"uolems/internal/provision"
)

func main() {
	_ = godotenv.Load()

	var req provision.Request
	var role, status string
	flag.StringVar(&req.Email, "email", "", "account email (required)")
	flag.StringVar(&req.Password, "password", "", "account password (default: $ACCOUNT_PASSWORD)")
	flag.StringVar(&req.FullName, "name", "", "full name (default: mailbox part of the email)")
	flag.StringVar(&role, "role", string(model.RoleStudent), "student, admin or guard")
	flag.StringVar(&req.Department, "department", "", "department, e.g. CS")
	flag.StringVar(&status, "status", "", "pending, approved or onboarding (default by role)")
	flag.BoolVar(&req.Verified, "verified", false, "mark the email address as verified")
	flag.Parse()

	req.Role = model.Role(role)
	req.Status = model.Status(status)
	if req.Password == "" {
		req.Password = os.Getenv("ACCOUNT_PASSWORD")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, req provision.Request) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if cfg.IdentityBackend != config.IdentityLocal {
		return errors.New("IDENTITY_BACKEND is not local; toolkit accounts are created through the hosted provider")
	}
	if cfg.StoreBackend == config.StoreMemory {
		return errors.New("STORE_BACKEND=memory would discard the profile; use postgres or firestore")
	}

	if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("db connection: %w", err)
	}
	defer pool.Close()
	db := database.NewStore(pool)

	var store docstore.Store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		store = pgstore.New(db.Pool, logger)
	case config.StoreFirestore:
		fs, err := fsstore.New(ctx, cfg.FirestoreProjectID, logger)
		if err != nil {
			return fmt.Errorf("firestore: %w", err)
		}
		defer fs.Close()
		store = fs
	}

	provider := local.New(local.NewPGAccounts(db), nil)
	id, err := provision.New(provider, store, logger).Provision(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%s) uid=%s verified=%t\n", id.Email, req.Role, id.UID, id.EmailVerified)
	return nil
}
