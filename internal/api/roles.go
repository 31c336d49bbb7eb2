package api

import (
	"net/http"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/services"
)

type switchRoleRequest struct {
	Role constants.Role `json:"role"`
}

type batchRolesRequest struct {
	Operations []services.BatchOperation `json:"operations"`
}

type optimizeResponse struct {
	Roles []constants.Role `json:"roles"`
}

type clearAllResponse struct {
	Removed int `json:"removed"`
}

// roleResultStatus maps the structured failures of the role switcher to HTTP codes
func roleResultStatus(result services.RoleResult) int {
	switch result.Error {
	case "":
		return http.StatusOK
	case constants.MsgUserDocumentNotFound:
		return http.StatusNotFound
	case constants.MsgRoleSwitchInProgress:
		return http.StatusConflict
	case constants.MsgRoleNotAssigned:
		return http.StatusForbidden
	case constants.MsgUnknownRole, constants.MsgMissingUserID:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeRoleResult(w http.ResponseWriter, result services.RoleResult, err error) {
	if err != nil {
		logging.Error("Role operation failed", "error", err)
		common.RespondError(w, http.StatusInternalServerError, result.Error)
		return
	}
	if !result.Success {
		common.RespondError(w, roleResultStatus(result), result.Error)
		return
	}
	common.RespondSuccess(w, http.StatusOK, &result)
}

// DetectRole handles POST /api/v1/roles/detect
func (h *Handlers) DetectRole() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		result, err := h.deps.Services.Roles.DetectRole(r.Context(), user)
		writeRoleResult(w, result, err)
	}
}

// SwitchRole handles POST /api/v1/roles/switch
func (h *Handlers) SwitchRole() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req switchRoleRequest
		if err := decodeBody(r, &req); err != nil || req.Role == "" {
			common.RespondError(w, http.StatusBadRequest, constants.MsgInvalidRequestBody)
			return
		}

		result, err := h.deps.Services.Roles.SwitchTo(r.Context(), req.Role, user)
		writeRoleResult(w, result, err)
	}
}

// RoleStats handles GET /api/v1/roles/stats
func (h *Handlers) RoleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		stats := h.deps.Services.Roles.GetStats(user.ID)
		common.RespondSuccess(w, http.StatusOK, &stats)
	}
}

// OptimizeRoles handles POST /api/v1/roles/optimize
func (h *Handlers) OptimizeRoles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		resp := optimizeResponse{Roles: h.deps.Services.Roles.OptimizeForUser(user)}
		common.RespondSuccess(w, http.StatusOK, &resp)
	}
}

// BatchRoles handles POST /api/v1/roles/batch (admin)
func (h *Handlers) BatchRoles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRolesRequest
		if err := decodeBody(r, &req); err != nil {
			common.RespondError(w, http.StatusBadRequest, constants.MsgInvalidRequestBody)
			return
		}
		result := h.deps.Services.Roles.BatchProcess(r.Context(), req.Operations)
		common.RespondSuccess(w, http.StatusOK, &result)
	}
}

// ClearRoleCache handles DELETE /api/v1/roles/cache
func (h *Handlers) ClearRoleCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if err := h.deps.Services.RoleCache.Clear(r.Context(), user.ID); err != nil {
			logging.Error("Role cache clear failed", "user_id", user.ID, "error", err)
			common.RespondError(w, http.StatusInternalServerError, "Failed to clear role cache")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ClearAllRoleCache handles DELETE /api/v1/admin/cache (admin)
func (h *Handlers) ClearAllRoleCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := h.deps.Services.RoleCache.ClearAll(r.Context())
		if err != nil {
			logging.Error("Role cache clear-all incomplete", "removed", removed, "error", err)
			common.RespondError(w, http.StatusInternalServerError, "Failed to clear every role cache tier")
			return
		}
		resp := clearAllResponse{Removed: removed}
		common.RespondSuccess(w, http.StatusOK, &resp)
	}
}
