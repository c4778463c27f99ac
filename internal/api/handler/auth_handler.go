package handler

import (
	"booklend/internal/api/handler/dto"
	"booklend/internal/api/middleware"
	"booklend/internal/config"
	"booklend/internal/domain/identity"
	"booklend/internal/pkg/apperrors"
	"booklend/internal/pkg/clock"
	"fmt"
	"log/slog"
	"net/http"
)

type AuthHandler struct {
	cfg    config.AuthConfig
	clock  clock.Clock
	logger *slog.Logger
}

func NewAuthHandler(cfg config.AuthConfig, c clock.Clock, l *slog.Logger) *AuthHandler {
	if c == nil {
		c = clock.System{}
	}
	return &AuthHandler{
		cfg:    cfg,
		clock:  c,
		logger: l.With("component", "AuthHandler"),
	}
}

// GenerateBearerToken issues a development token for a borrower.
//
// @Summary Generate a JWT bearer token
// @Description Development token issuer, mounted only when server.auth.devTokenIssuer is set. The token subject is the borrower id. ADMIN tokens are refused.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.TokenRequest true "Borrower"
// @Success 200 {object} dto.TokenResponse "Token successfully generated"
// @Failure 400 {object} dto.ErrorResponse "Invalid request parameters"
// @Failure 403 {object} dto.ErrorResponse "ADMIN role requested"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /auth/token [post]
func (h *AuthHandler) GenerateBearerToken(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode token request", "error", err)
		respondError(w, invalidArgument(err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	who := identity.New(req.BorrowerID, identity.Role(req.Role))
	if who.IsAdmin() {
		h.logger.WarnContext(r.Context(), "Refused admin token request", "borrower_id", req.BorrowerID)
		respondError(w, fmt.Errorf("%w: admin tokens are not issued here", apperrors.ErrForbidden))
		return
	}

	token, expiresAt, err := middleware.IssueToken(h.cfg, who, h.clock.Now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to issue token", "error", err)
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Issued bearer token", "borrower_id", req.BorrowerID)
	respondJSON(w, http.StatusOK, dto.TokenResponse{Token: "Bearer " + token, ExpiresAt: expiresAt.Unix()})
}
