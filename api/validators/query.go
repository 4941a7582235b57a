package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

// IntRange bounds an optional integer query parameter.
type IntRange struct {
	Default int
	Min     int
	Max     int
}

// PageLimit is the range list endpoints accept for ?limit=.
var PageLimit = IntRange{Default: 20, Min: 1, Max: 100}

// ParseQueryInt reads key from the query string, returning the range default
// when it is absent.
func ParseQueryInt(r *http.Request, key string, bounds IntRange) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return bounds.Default, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(key, "must be an integer", nil)
	}
	if value < bounds.Min || value > bounds.Max {
		return 0, invalidParam(key, "is out of range", map[string]any{"min": bounds.Min, "max": bounds.Max})
	}
	return value, nil
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, invalidParam(key, "is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalidParam(key, "must be a uuid", nil)
	}
	return id, nil
}

func invalidParam(key, problem string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, key+" "+problem).WithDetails(details)
}
