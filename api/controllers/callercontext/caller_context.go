package callercontext

import (
	"net/http"

	"github.com/angelmondragon/payrecon/api/middleware"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ResolveUserID extracts the authenticated payer from the request.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context required")
	}
	return id, nil
}

// PathUUID parses a uuid route parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
