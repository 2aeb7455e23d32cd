package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/ioanimal"
	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/ioconversion"
	"github.com/fieldnote/dex/internal/iodb"
	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/ioschema"
	"github.com/fieldnote/dex/pkg/db"
)

func getRecalcIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc-index",
		Short: "Renumber canonical animals' creation indices densely",
		Long: `Recalc-index renumbers every canonical animal by (creation_index,
created_at) in a single transaction, closing the gaps deletes leave
behind. Observations reference animals by id, not by index, so existing
catalog entries are unaffected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGORM(cmd.Context(), func(ctx context.Context, gormDB *gorm.DB) error {
				if err := ioanimal.New(gormDB).RecalculateCreationIndex(ctx); err != nil {
					return fmt.Errorf("recalculate creation index: %w", err)
				}
				log.Info("creation indices recalculated")
				return nil
			})
		},
	}
}

func getRecheckSynonymsCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "recheck-synonyms",
		Short: "Re-resolve unlinked synonyms and rescore completeness",
		Long: `Recheck-synonyms re-runs the Taxonomy Reconciler's synonym-resolution
chain over every synonym taxon with no accepted_name link, persisting
links that imports have since made resolvable, then recomputes each
taxon's completeness score. Cached reconciliation results are dropped
afterward so the next lookup sees the repaired corpus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGORM(cmd.Context(), func(ctx context.Context, gormDB *gorm.DB) error {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Cache.Addr,
					Password: cfg.Cache.Password,
					DB:       cfg.Cache.DB,
				})
				defer rdb.Close()
				cache := iocache.New(rdb)

				reconciler := ioreconcile.New(gormDB, cache)

				linked, err := reconciler.RecheckSynonyms(ctx, source)
				if err != nil {
					return fmt.Errorf("recheck synonyms: %w", err)
				}
				log.Info("synonym recheck complete",
					"examined", linked.Examined, "relinked", linked.Relinked)

				scored, err := reconciler.RescoreCompleteness(ctx, source)
				if err != nil {
					return fmt.Errorf("rescore completeness: %w", err)
				}
				log.Info("completeness rescore complete",
					"examined", scored.Examined, "rescored", scored.Rescored)

				if err := cache.DeletePrefix(ctx, "taxonomy:"); err != nil {
					log.Warn("failed to drop cached reconciliation results", "err", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "",
		"restrict the pass to one source id (default: all sources)")

	return cmd
}

func getReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired unbound image conversions",
		Long: `Reap deletes every image conversion that expired without being bound to
a vision job, plus unbound conversions older than an hour. The serve
command runs the same sweep periodically; this command exists for
operators who want to force one or run reaping out of process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGORM(cmd.Context(), func(ctx context.Context, gormDB *gorm.DB) error {
				// Reap only deletes rows; the blob store is never touched.
				reaped, err := ioconversion.New(gormDB, nil).Reap(ctx)
				if err != nil {
					return fmt.Errorf("reap conversions: %w", err)
				}
				log.Info("conversions reaped", "deleted", reaped)
				return nil
			})
		},
	}
}

// withGORM connects to the database, opens a GORM session over the shared
// pool, and closes the connection once fn returns.
func withGORM(ctx context.Context, fn func(context.Context, *gorm.DB) error) error {
	var op db.Operator = iodb.NewPgxOperator()
	if err := op.Connect(ctx, &cfg.Database); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer op.Close()

	gormDB, err := ioschema.OpenGORM(op)
	if err != nil {
		return fmt.Errorf("open gorm: %w", err)
	}
	return fn(ctx, gormDB)
}
