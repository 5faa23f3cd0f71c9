package validators

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

const maxPathIDLen = 128

// PathID reads a required chi URL parameter.
func PathID(r *http.Request, key string) (string, error) {
	value := SanitizeString(chi.URLParam(r, key), 0)
	if value == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "path parameter is required").WithDetails(map[string]any{"field": key})
	}
	if len(value) > maxPathIDLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "path parameter too long").WithDetails(map[string]any{"field": key, "max": maxPathIDLen})
	}
	return value, nil
}
