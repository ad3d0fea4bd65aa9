// Credits HTTP handlers.
//
// This file exposes the ledger endpoints:
//   - GET  /credits          (current balance; creates the account lazily)
//   - POST /credits/migrate  (move a guest session's balance into a user account)
//
// Migration requires a registered identity: the X-User-ID header names the
// target account and the request body names the guest session to drain.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumistory/go-studio-backend/internal/domain"
)

// CreditsResponse reports the caller's current balance.
type CreditsResponse struct {
	Balance    int  `json:"balance" example:"5"`
	HasCredits bool `json:"has_credits" example:"true"`
}

// MigrateCreditsRequest names the guest session whose balance should move to
// the calling user's account.
type MigrateCreditsRequest struct {
	// SessionID is the guest session to drain.
	SessionID string `json:"session_id" binding:"required,min=1" example:"3f2c1b7a"`
}

// MigrateCreditsResponse reports the outcome of a balance migration.
type MigrateCreditsResponse struct {
	// Migrated is the number of credits moved; 0 when the session had none.
	Migrated int `json:"migrated" example:"3"`
}

// GetCredits godoc
// @ID          getCredits
// @Summary     Get credit balance
// @Description Returns the caller's current credit balance. First contact creates
// @Description the account with its starting grant.
// @Tags        Credits
// @Produce     json
//
// @Param       X-User-ID     header  string  false "Registered user ID"  example(user123)
// @Param       X-Session-ID  header  string  false "Guest session ID"    example(3f2c1b7a)
//
// @Success     200  {object}  handlers.CreditsResponse
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /credits [get]
func (h *Handlers) GetCredits(c *gin.Context) {
	ctx := c.Request.Context()

	owner, known := requestOwner(c)
	if !known {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Session-ID header required")
		return
	}

	hasCredits, balance, err := h.creditSvc.CheckBalance(ctx, owner)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, CreditsResponse{Balance: balance, HasCredits: hasCredits})
}

// MigrateCredits godoc
// @ID          migrateCredits
// @Summary     Migrate guest credits to a user account
// @Description Moves the remaining balance of a guest session into the calling
// @Description user's account. Repeating the call is harmless: a drained or
// @Description unknown session migrates zero.
// @Tags        Credits
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Registered user ID receiving the balance"  example(user123)
// @Param       body       body    handlers.MigrateCreditsRequest  true  "Guest session to drain"
//
// @Success     200  {object}  handlers.MigrateCreditsResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing or guest identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /credits/migrate [post]
func (h *Handlers) MigrateCredits(c *gin.Context) {
	ctx := c.Request.Context()

	owner, known := requestOwner(c)
	if !known || owner.Kind != domain.OwnerUser {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
		return
	}

	var req MigrateCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id required")
		return
	}
	sessionKey := "guest:" + strings.TrimSpace(req.SessionID)

	moved, err := h.creditSvc.Migrate(ctx, sessionKey, owner.Key)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, MigrateCreditsResponse{Migrated: moved})
}
