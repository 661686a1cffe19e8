package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/tjfontaine/polyglot-chat-backend/internal/auth"
	"github.com/tjfontaine/polyglot-chat-backend/internal/sanitize"
	"github.com/tjfontaine/polyglot-chat-backend/internal/storage"
)

type sessionContextKey struct{}

var errInvalidSession = errors.New("invalid or expired session token")

// SessionAuthMiddleware resolves the bearer token to a stored session and
// places it in the request context.
func SessionAuthMiddleware(issuer *auth.Issuer, store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.ExtractBearerToken(r)
			if err != nil {
				unauthorized(w, r, err)
				return
			}

			sessionID, err := issuer.Verify(sanitize.String(raw))
			if err != nil {
				AddError(r.Context(), err)
				unauthorized(w, r, errInvalidSession)
				return
			}

			sess, err := store.GetSession(r.Context(), sanitize.String(sessionID))
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					writeError(w, r, http.StatusInternalServerError, err)
					return
				}
				unauthorized(w, r, errors.New("session not found"))
				return
			}

			AddLogField(r.Context(), "session_id", sess.ID)
			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session set by SessionAuthMiddleware, or nil.
func SessionFromContext(ctx context.Context) *storage.Session {
	if s, ok := ctx.Value(sessionContextKey{}).(*storage.Session); ok {
		return s
	}
	return nil
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, err)
}
