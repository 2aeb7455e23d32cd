// Package ioapi is the external HTTP API (spec §6): a chi router exposing
// the image conversion, vision job, dex entry, and tree projection
// pipelines behind bearer-token auth. Grounded on the chi + go-chi/cors
// wiring pattern in digitallysavvy-go-ai/examples/chi-server.
package ioapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/ioconversion"
	"github.com/fieldnote/dex/internal/iojob"
	"github.com/fieldnote/dex/internal/ioobservation"
	"github.com/fieldnote/dex/internal/iotree"
)

// Server wires every domain component behind the HTTP transport (spec §6).
type Server struct {
	db            *gorm.DB
	conversions   *ioconversion.Store
	blobs         ioconversion.Blobs
	jobs          *iojob.Executor
	observations  *ioobservation.Recorder
	tree          *iotree.Projector
	cache         *iocache.Cache
	admin         iotree.AdminChecker
	auth          *authenticator
	validate      *validator.Validate
	allowedOrigin []string
}

// New constructs a Server. jwtSigningKey authenticates inbound bearer
// tokens; allowedOrigins configures CORS (spec §6, pkg/config.HTTPConfig).
func New(
	db *gorm.DB,
	conversions *ioconversion.Store,
	blobs ioconversion.Blobs,
	jobs *iojob.Executor,
	observations *ioobservation.Recorder,
	tree *iotree.Projector,
	cache *iocache.Cache,
	admin iotree.AdminChecker,
	jwtSigningKey string,
	allowedOrigins []string,
) *Server {
	return &Server{
		db:            db,
		conversions:   conversions,
		blobs:         blobs,
		jobs:          jobs,
		observations:  observations,
		tree:          tree,
		cache:         cache,
		admin:         admin,
		auth:          newAuthenticator(jwtSigningKey),
		validate:      validator.New(),
		allowedOrigin: allowedOrigins,
	}
}

// Router builds the chi.Router serving every endpoint named in spec §6
// under /api/v1.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.middleware)

		r.Get("/users/me", s.handleGetMe)

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", s.handleListFriends)
			r.Post("/by_code", s.handleFriendByCode)
			r.Post("/{id}/accept", s.handleAcceptFriend)
			r.Post("/{id}/reject", s.handleRejectFriend)
			r.Post("/{id}/block", s.handleBlockFriend)
		})

		r.Route("/images/convert", func(r chi.Router) {
			r.Post("/", s.handleConvertImage)
			r.Get("/{id}/download", s.handleDownloadConversion)
		})

		r.Route("/vision/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/select_animal", s.handleSelectAnimal)
			r.Post("/{id}/retry", s.handleRetryJob)
		})

		r.Route("/dex/entries", func(r chi.Router) {
			r.Post("/", s.handleCreateEntry)
			r.Get("/sync_entries", s.handleSyncEntries)
			r.Get("/{id}", s.handleGetEntry)
			r.Get("/{id}/image", s.handleEntryImage)
			r.Delete("/{id}", s.handleDeleteEntry)
		})

		r.Route("/graph/tree", func(r chi.Router) {
			r.Get("/", s.handleGetTree)
			r.Get("/chunk/{x}/{y}", s.handleGetChunk)
			r.Post("/invalidate", s.handleInvalidateTree)
		})
	})

	return r
}
