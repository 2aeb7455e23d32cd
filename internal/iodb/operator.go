// Package iodb implements the pkg/db.Operator contract over a pgxpool
// connection pool. This is an impure I/O package; everything above it
// (schema manager, importer, conversion store) talks to the pool through
// the contract, never to pgx directly.
package iodb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldnote/dex/pkg/config"
	"github.com/fieldnote/dex/pkg/db"
)

// PgxOperator carries the catalog's single connection pool. Every
// consumer shares it: chi request handlers, the job executor's workers,
// and the importer's staging batches (through the GORM handle built on it).
type PgxOperator struct {
	pool *pgxpool.Pool
}

// NewPgxOperator returns an unconnected operator; call Connect before use.
func NewPgxOperator() db.Operator {
	return &PgxOperator{}
}

// dsn renders cfg as a postgres:// connection string.
func dsn(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// Connect establishes the pool and verifies it with a ping before handing
// it out, so a bad config fails at startup rather than on the first
// request.
func (p *PgxOperator) Connect(ctx context.Context, cfg *config.DatabaseConfig) error {
	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return ConnectionError(cfg.Host, cfg.Port, cfg.Database, cfg.User, err)
	}

	// The pool serves three consumer groups at once: HTTP handlers, job
	// executor workers, and importer staging batches. 16 connections
	// covers their combined peak without starving Postgres of slots;
	// two stay warm so an idle server answers its first request without
	// a dial.
	poolConfig.MaxConns = 16
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return ConnectionError(cfg.Host, cfg.Port, cfg.Database, cfg.User, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return ConnectionError(cfg.Host, cfg.Port, cfg.Database, cfg.User, err)
	}

	p.pool = pool
	return nil
}

// Close releases every pooled connection. Safe on an unconnected operator.
func (p *PgxOperator) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Pool exposes the underlying pgxpool.Pool for components that need pgx
// directly (the GORM bridge in internal/ioschema and its collation pass).
func (p *PgxOperator) Pool() *pgxpool.Pool {
	return p.pool
}

// queryExists runs an EXISTS-shaped query and scans its single boolean.
func (p *PgxOperator) queryExists(ctx context.Context, query string, args ...any) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, query, args...).Scan(&exists)
	return exists, err
}

// TableExists reports whether tableName exists in the public schema.
func (p *PgxOperator) TableExists(ctx context.Context, tableName string) (bool, error) {
	if p.pool == nil {
		return false, NotConnectedError()
	}

	exists, err := p.queryExists(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)`, tableName)
	if err != nil {
		return false, TableExistsCheckError(tableName, err)
	}
	return exists, nil
}

// HasTables reports whether the public schema holds any tables at all.
// The schema create command uses this to decide whether it is about to
// overwrite an existing catalog.
func (p *PgxOperator) HasTables(ctx context.Context) (bool, error) {
	if p.pool == nil {
		return false, NotConnectedError()
	}

	exists, err := p.queryExists(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
		)`)
	if err != nil {
		return false, TableCheckError(err)
	}
	return exists, nil
}

// DropAllTables drops every table in the public schema with CASCADE.
// Only the schema create command's overwrite path calls this.
func (p *PgxOperator) DropAllTables(ctx context.Context) error {
	if p.pool == nil {
		return NotConnectedError()
	}

	rows, err := p.pool.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public'`)
	if err != nil {
		return QueryTablesError(err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return ScanTableError(err)
	}

	for _, table := range tables {
		drop := "DROP TABLE IF EXISTS " + pgx.Identifier{table}.Sanitize() + " CASCADE"
		if _, err := p.pool.Exec(ctx, drop); err != nil {
			return DropTableError(table, err)
		}
	}
	return nil
}
