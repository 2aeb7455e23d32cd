// Package iotesting provides shared test utilities for integration tests
// that need a real Postgres database. This is an internal package for
// test infrastructure only.
package iotesting

import (
	"database/sql"
	"strconv"
	"testing"

	"github.com/fieldnote/dex/internal/ioconfig"
	"github.com/fieldnote/dex/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/pkg/schema"
)

// TestDatabaseName is the database name used for all integration tests.
// This ensures tests never accidentally run against production databases.
const TestDatabaseName = "dex_test"

// GetTestConfig returns a configuration suitable for integration tests:
// loaded like any other run, but with the database name pinned to
// TestDatabaseName for safety.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    if testing.Short() {
//	        t.Skip("integration test needs a real database")
//	    }
//	    cfg := iotesting.GetTestConfig()
//	}
func GetTestConfig() *config.Config {
	result, err := ioconfig.Load("")

	var cfg *config.Config
	if err != nil {
		cfg = config.New()
	} else {
		cfg = result.Config
	}
	cfg.Database.Database = TestDatabaseName
	return cfg
}

// OpenGORM opens a migrated GORM connection against the test database
// using the standard library pgx driver, and registers cleanup to close
// it. Skips the test (short mode) if dialing fails, since these are
// integration tests that require a live Postgres instance.
func OpenGORM(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs a real database")
	}

	cfg := GetTestConfig()
	dsn := pgDSN(cfg)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skipf("cannot open test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		t.Skipf("cannot connect gorm to test database: %v", err)
	}
	if err := schema.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return gdb
}

func pgDSN(cfg *config.Config) string {
	d := cfg.Database
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Database + "?sslmode=" + d.SSLMode
}
