package ioapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/pkg/errcode"
)

type ctxKey int

const viewerCtxKey ctxKey = iota

// viewerClaims is the minimal claim set an inbound bearer token must
// carry: the authenticated user's id (spec §6: "bearer-token
// authorization").
type viewerClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"user_id"`
}

// authenticator verifies bearer tokens and extracts the viewer id.
type authenticator struct {
	signingKey []byte
}

func newAuthenticator(signingKey string) *authenticator {
	return &authenticator{signingKey: []byte(signingKey)}
}

// middleware rejects requests with no or invalid bearer token, and stores
// the viewer's user id in the request context for handlers to read via
// viewerFrom.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, errcode.Unauthorized("missing bearer token"))
			return
		}

		claims := &viewerClaims{}
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return a.signingKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeError(w, r, errcode.Unauthorized("invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), viewerCtxKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// viewerFrom returns the authenticated viewer id stored by middleware.
// Only ever called from inside a route mounted behind middleware, so the
// assertion cannot fail in practice; a missing value is a wiring bug, not
// a client error.
func viewerFrom(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(viewerCtxKey).(uuid.UUID)
	return v
}
