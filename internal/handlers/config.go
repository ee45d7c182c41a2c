package handlers

import (
	"net/http"

	"github.com/songify/partyqueue/internal/config"
	"github.com/songify/partyqueue/internal/models"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns non-sensitive configuration for the frontend
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PublicConfigResponse{
		FrontendURL:          h.cfg.FrontendURL,
		VotePolicy:           h.cfg.Policy().String(),
		SpotifyClientID:      h.cfg.SpotifyClientID,
		HostPasswordRequired: h.cfg.HostPortalPassword != "",
	})
}
