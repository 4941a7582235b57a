package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/middleware"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

// actorFromRequest reads the identity Auth placed on the request context.
func actorFromRequest(r *http.Request) (payments.Viewer, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return payments.Viewer{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return payments.Viewer{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	role := enums.ActorRole(middleware.RoleFromContext(r.Context()))
	if !role.IsValid() {
		return payments.Viewer{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid actor role")
	}
	return payments.Viewer{UserID: userID, Role: role}, nil
}

// decodeOptionalBody accepts an empty body and validates anything else.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := validators.DecodeJSONBody(r, dest)
	if err != nil && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
