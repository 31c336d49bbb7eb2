package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"cryptorafts/platform/internal/auth"
	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/models/entities"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	deps *Dependencies
}

// NewHandlers creates a new handlers instance with injected dependencies
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		deps: deps,
	}
}

// currentUser writes a 401 and reports false when the request carries no claims
func currentUser(w http.ResponseWriter, r *http.Request) (entities.AuthUser, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		common.RespondError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
		return entities.AuthUser{}, false
	}
	return auth.AuthUser(claims), true
}

// decodeBody reads a JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return sonic.Unmarshal(body, v)
}
