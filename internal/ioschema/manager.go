// Package ioschema implements catalog.SchemaManager for database schema
// management. This is an impure I/O package that wraps GORM AutoMigrate
// functionality.
package ioschema

import (
	"context"

	"github.com/fieldnote/dex/pkg/catalog"
	"github.com/fieldnote/dex/pkg/db"
	"github.com/fieldnote/dex/pkg/schema"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// manager implements catalog.SchemaManager using GORM AutoMigrate.
type manager struct {
	operator db.Operator
}

// NewManager creates a new SchemaManager.
func NewManager(op db.Operator) catalog.SchemaManager {
	return &manager{operator: op}
}

// Create creates the initial database schema using GORM AutoMigrate, then
// applies collation settings for correct scientific-name sorting.
func (m *manager) Create(ctx context.Context) error {
	gormDB, err := m.openGORM()
	if err != nil {
		return err
	}

	if err := schema.Migrate(gormDB); err != nil {
		return CreateSchemaError(err)
	}

	return m.setCollation(ctx)
}

// Migrate updates the database schema to the latest version using GORM
// AutoMigrate.
func (m *manager) Migrate(ctx context.Context) error {
	gormDB, err := m.openGORM()
	if err != nil {
		return err
	}

	if err := schema.Migrate(gormDB); err != nil {
		return MigrateSchemaError(err)
	}

	return m.setCollation(ctx)
}

func (m *manager) openGORM() (*gorm.DB, error) {
	return OpenGORM(m.operator)
}

// OpenGORM wraps a connected db.Operator's pgxpool.Pool in a *gorm.DB,
// reusing the pool's connections rather than dialing a second one. Exported
// for cmd/dexd's other subcommands (import, serve) that also need a GORM
// handle on top of the same Operator connection.
func OpenGORM(op db.Operator) (*gorm.DB, error) {
	pool := op.Pool()
	if pool == nil {
		return nil, NotConnectedError()
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	gormDB, err := gorm.Open(
		postgres.New(postgres.Config{Conn: sqlDB}),
		&gorm.Config{},
	)
	if err != nil {
		return nil, GORMConnectionError(err)
	}

	return gormDB, nil
}

// setCollation sets "C" collation on the text columns the taxonomy
// reconciler sorts and compares against. Postgres's default locale
// collation is case- and accent-aware in ways that break exact/fuzzy
// scientific-name matching (§4.5); "C" collation gives byte-order
// comparison instead.
func (m *manager) setCollation(ctx context.Context) error {
	pool := m.operator.Pool()
	if pool == nil {
		return NotConnectedError()
	}

	type columnDef struct {
		table, column string
	}

	columns := []columnDef{
		{"reference_taxa", "scientific_name"},
		{"canonical_animals", "scientific_name"},
		{"common_names", "name"},
	}

	qStr := `ALTER TABLE %s ALTER COLUMN %s ` +
		`TYPE TEXT COLLATE "C"`

	for _, col := range columns {
		q := formatCollationSQL(qStr, col.table, col.column)
		if _, err := pool.Exec(ctx, q); err != nil {
			return CollationError(col.table, col.column, err)
		}
	}

	return nil
}
