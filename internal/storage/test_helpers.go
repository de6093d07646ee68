package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lead-scanner/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return &config.PostgresConfig{
		Host:           getenv("POSTGRES_HOST", "localhost"),
		Port:           getenv("POSTGRES_PORT", "5432"),
		Database:       getenv("POSTGRES_DB", "lead_scanner_test"),
		User:           getenv("POSTGRES_USER", "scanner"),
		Password:       getenv("POSTGRES_PASSWORD", "scanner_dev_password"),
		MaxConnections: 10,
	}
}

// openTestDB connects to Postgres and applies migrations, skipping the test
// when no database is reachable
func openTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := NewMigrator(cfg.URL(), "../../migrations").Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	ctx := testContext(t)
	_, err = db.Pool().Exec(ctx, `TRUNCATE search_records, scrape_jobs, credit_transactions, credit_accounts, cached_businesses`)
	if err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	return db
}
