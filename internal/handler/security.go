package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/auth"
)

// actorKey is the context key for the authenticated actor.
type actorKey struct{}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (auth.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(auth.Actor)
	return a, ok
}

// Security authenticates staff requests via HMAC-SHA256 hashed API keys.
// The tenant an actor may touch comes from the stored key record, never from
// request headers.
type Security struct {
	keys   auth.Repository
	pepper []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(keys auth.Repository, pepper []byte) *Security {
	return &Security{keys: keys, pepper: pepper}
}

// HashKey computes the stored hash for a raw API key.
func (s *Security) HashKey(raw string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Require wraps next with API key authentication and a scope check. The
// resolved actor lands in the request context.
func (s *Security) Require(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("api_key")
		if raw == "" {
			respondError(w, r, http.StatusUnauthorized, "api key required")
			return
		}

		hash := s.HashKey(raw)
		rec, err := s.keys.FindByHash(r.Context(), hash)
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		// Constant-time comparison guards against timing side-channels even
		// though the lookup already succeeded.
		stored, err := hex.DecodeString(rec.KeyHash)
		if err != nil || subtle.ConstantTimeCompare([]byte(hash), []byte(hex.EncodeToString(stored))) != 1 {
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		actor := auth.Actor{
			KeyID:    rec.ID,
			Name:     rec.Name,
			StudioID: rec.StudioID,
			Scopes:   rec.Scopes,
		}
		if !actor.Allowed(scope) {
			zctx.From(r.Context()).Warn("scope denied",
				zap.String("key_id", rec.ID),
				zap.String("scope", scope),
			)
			respondError(w, r, http.StatusForbidden, "insufficient scope")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
