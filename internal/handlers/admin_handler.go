package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/models"
	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
)

// AccountUnlocker clears a lockout on behalf of an administrator.
type AccountUnlocker interface {
	UnlockAccount(ctx context.Context, email, actorID string) error
}

// AdminHandler handles administrative account-security requests.
type AdminHandler struct {
	service AccountUnlocker
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AccountUnlocker) *AdminHandler {
	return &AdminHandler{service: service}
}

// UnlockRequest names the account to unlock
type UnlockRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// Unlock handles POST /admin/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.UnlockAccount(r.Context(), req.Email, claims.UserID()); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid email")
		default:
			pkghttp.WriteInternalError(w, "Failed to unlock account")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
