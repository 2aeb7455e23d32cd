package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldnote/dex/internal/iodb"
	"github.com/fieldnote/dex/internal/ioschema"
	"github.com/fieldnote/dex/pkg/catalog"
	"github.com/fieldnote/dex/pkg/db"
)

func getSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the catalog's database schema",
	}
	cmd.AddCommand(getSchemaCreateCmd(), getSchemaMigrateCmd())
	return cmd
}

func getSchemaCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the database schema from scratch",
		Long: `Create builds the catalog's schema via GORM AutoMigrate and applies the
collation fix-ups the Taxonomy Reconciler's exact-match stages depend on.
Safe to run against an empty database; running it again is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchemaManager(cmd.Context(), func(ctx context.Context, sm catalog.SchemaManager) error {
				if err := sm.Create(ctx); err != nil {
					return fmt.Errorf("create schema: %w", err)
				}
				log.Info("schema created")
				return nil
			})
		},
	}
}

func getSchemaMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring an existing schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchemaManager(cmd.Context(), func(ctx context.Context, sm catalog.SchemaManager) error {
				if err := sm.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate schema: %w", err)
				}
				log.Info("schema migrated")
				return nil
			})
		},
	}
}

// withSchemaManager connects to the database, builds a SchemaManager, and
// closes the connection once fn returns.
func withSchemaManager(ctx context.Context, fn func(context.Context, catalog.SchemaManager) error) error {
	var op db.Operator = iodb.NewPgxOperator()
	if err := op.Connect(ctx, &cfg.Database); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer op.Close()

	sm := ioschema.NewManager(op)
	return fn(ctx, sm)
}
