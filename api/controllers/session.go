package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type sessionReleaser interface {
	Release(ctx context.Context, credential string) error
}

// SessionLogout flushes and tears down the caller's cart session. The cart
// itself lives on in the backend and is reloaded on the next request.
func SessionLogout(sessions sessionReleaser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "cart sessions unavailable"))
			return
		}
		credential := middleware.EmailFromContext(r.Context())
		if credential == "" {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeUnauthorized, "missing credentials"))
			return
		}
		if err := sessions.Release(r.Context(), credential); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}
