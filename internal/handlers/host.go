package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/benbjohnson/clock"

	"github.com/songify/partyqueue/internal/config"
	"github.com/songify/partyqueue/internal/crypto"
	"github.com/songify/partyqueue/internal/logging"
	"github.com/songify/partyqueue/internal/models"
)

type HostHandler struct {
	cfg   *config.Config
	clock clock.Clock
}

func NewHostHandler(cfg *config.Config, clk clock.Clock) *HostHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &HostHandler{cfg: cfg, clock: clk}
}

// VerifyPassword lets the frontend check a host portal password hash before
// creating a party. Without a configured password every hash is valid.
func (h *HostHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}

	if h.cfg.HostPortalPassword == "" {
		writeJSON(w, http.StatusOK, models.VerifyHostResponse{Valid: true, Required: false})
		return
	}

	valid, err := crypto.VerifyHostPassword(h.cfg.HostPortalPassword, req.PasswordHash, h.clock.Now())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to hash host portal password", CodeInternal, err)
		return
	}
	if !valid {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadHostPassword, "invalid host portal password")
	}

	writeJSON(w, http.StatusOK, models.VerifyHostResponse{Valid: valid, Required: true})
}
