// Package catalog holds the schema-management contract (SchemaManager)
// that internal/ioschema implements. The pipeline components do not
// declare their contracts here.
package catalog

import "context"

// SchemaManager creates and migrates the database schema via GORM
// AutoMigrate. Safe to run multiple times; idempotent.
type SchemaManager interface {
	// Create builds the initial schema and applies the collation fix-ups
	// required for correct scientific-name ordering.
	Create(ctx context.Context) error

	// Migrate brings an existing schema up to the current model set.
	Migrate(ctx context.Context) error
}
