package storage_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/lib/pq"

	"github.com/foreman-run/foreman/storage"
)

// newTestDB opens a connection against FOREMAN_TEST_DATABASE_URL and
// initializes a fresh schema. Tests that need a live PostgreSQL instance
// skip themselves when the variable is unset, following the standard Go
// idiom for optional integration tests.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := os.Getenv("FOREMAN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FOREMAN_TEST_DATABASE_URL not set, skipping storage integration test")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	ctx := context.Background()
	if err := storage.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM job_log")
		_, _ = db.ExecContext(ctx, "DELETE FROM job")
		_, _ = db.ExecContext(ctx, "DELETE FROM queue")
		_ = db.Close()
	})
	return db
}
