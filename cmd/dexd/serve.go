package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fieldnote/dex/internal/ioanimal"
	"github.com/fieldnote/dex/internal/ioapi"
	"github.com/fieldnote/dex/internal/ioblob"
	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/ioconversion"
	"github.com/fieldnote/dex/internal/iodb"
	"github.com/fieldnote/dex/internal/iojob"
	"github.com/fieldnote/dex/internal/ioobservation"
	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/ioschema"
	"github.com/fieldnote/dex/internal/iotree"
	"github.com/fieldnote/dex/internal/iovision"
	"github.com/fieldnote/dex/pkg/config"
	"github.com/fieldnote/dex/pkg/db"
)

func getServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog's HTTP API",
		Long: `Serve wires every domain component — the Conversion Store, Job Executor,
Taxonomy Reconciler, Observation Recorder, and Tree Projector — behind the
chi router described in spec §6, and runs it until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	tracerProvider, err := newTracerProvider()
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()
	otel.SetTracerProvider(tracerProvider)

	var op db.Operator = iodb.NewPgxOperator()
	if err := op.Connect(ctx, &cfg.Database); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer op.Close()

	gormDB, err := ioschema.OpenGORM(op)
	if err != nil {
		return fmt.Errorf("open gorm: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	defer rdb.Close()

	blobRoot := filepath.Join(config.CacheDir(cfg.HomeDir), "blobs")
	blobs, err := ioblob.New(blobRoot)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	apiKey := os.Getenv(cfg.Vision.APIKeyEnv)
	vision := iovision.New(apiKey)

	cache := iocache.New(rdb)
	reconciler := ioreconcile.New(gormDB, cache)
	animals := ioanimal.New(gormDB)
	conversions := ioconversion.New(gormDB, blobs)
	observations := ioobservation.New(gormDB, cache)
	admin := newStaticAdminChecker(cfg.HTTP.AdminUserIDs)
	tree := iotree.New(gormDB, admin)

	jobs := iojob.New(gormDB, vision, reconciler, animals, conversions, blobs, nil)
	pool := iojob.NewPool(jobs, cfg.JobsNumber, 256)
	defer pool.Close()
	jobs.SetScheduler(pool)

	server := ioapi.New(
		gormDB,
		conversions,
		blobs,
		jobs,
		observations,
		tree,
		cache,
		admin,
		cfg.HTTP.JWTSigningKey,
		cfg.HTTP.AllowedOrigins,
	)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}

	serveCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runReapLoop(serveCtx, conversions)

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving catalog API", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-serveCtx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// reapInterval paces the background sweep over expired unbound
// conversions. A 30-minute TTL with a 5-minute sweep keeps the overrun
// past expiry short without hammering the table.
const reapInterval = 5 * time.Minute

// runReapLoop deletes expired unbound conversions until ctx is cancelled
// (spec §4.2 Reap).
func runReapLoop(ctx context.Context, conversions *ioconversion.Store) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := conversions.Reap(ctx)
			if err != nil {
				log.Warn("conversion reap failed", "err", err)
				continue
			}
			if reaped > 0 {
				log.Info("conversions reaped", "deleted", reaped)
			}
		}
	}
}

// newTracerProvider builds the SDK tracer provider that internal/iojob's
// executor spans attach to. No exporter is registered: the spec carries no
// OTLP/collector endpoint, so spans are sampled and timed but not shipped
// anywhere, which is enough for the executor's own span attributes to be
// inspected by a future collector without forcing one on every deployment.
func newTracerProvider() (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", "dexd")),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

// staticAdminChecker grants global-tree access to a fixed, config-supplied
// set of user ids (spec §4.10). Role management beyond this is out of core
// scope (spec §1: "admin UI" is an external collaborator).
type staticAdminChecker map[uuid.UUID]struct{}

func (s staticAdminChecker) IsAdmin(_ context.Context, userID uuid.UUID) (bool, error) {
	_, ok := s[userID]
	return ok, nil
}

func newStaticAdminChecker(ids []string) staticAdminChecker {
	set := make(staticAdminChecker, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
