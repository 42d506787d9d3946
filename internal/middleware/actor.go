package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/carebook/paydesk/internal/errs"
	"github.com/carebook/paydesk/internal/model"
)

// Identity headers set by the gateway after authentication. The engine trusts
// them; it never authenticates itself.
const (
	AdminIDHeader    = "X-Admin-Id"
	AdminEmailHeader = "X-Admin-Email"
	AdminRoleHeader  = "X-Admin-Role"
)

// GetActor resolves the acting administrator from the identity headers.
func GetActor(r *http.Request) (model.Actor, error) {
	rawID := r.Header.Get(AdminIDHeader)
	email := r.Header.Get(AdminEmailHeader)
	role := r.Header.Get(AdminRoleHeader)

	if rawID == "" || email == "" || role == "" {
		return model.Actor{}, errs.Validation("missing admin identity headers")
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return model.Actor{}, errs.Validation("invalid admin id %q", rawID)
	}

	return model.Actor{ID: id, Email: email, Role: role}, nil
}
