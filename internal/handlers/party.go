package handlers

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"github.com/songify/partyqueue/internal/config"
	"github.com/songify/partyqueue/internal/crypto"
	"github.com/songify/partyqueue/internal/logging"
	"github.com/songify/partyqueue/internal/models"
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/services"
)

// NameSource supplies display names for guests who join without one.
type NameSource interface {
	GenerateName() string
}

// PartyHandler manages the party lifecycle: creation, lookup, joining,
// playback and closing.
type PartyHandler struct {
	store       *party.Store
	authService *services.AuthService
	names       NameSource
	cfg         *config.Config
	clock       clock.Clock
}

func NewPartyHandler(store *party.Store, authService *services.AuthService, names NameSource, cfg *config.Config, clk clock.Clock) *PartyHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &PartyHandler{
		store:       store,
		authService: authService,
		names:       names,
		cfg:         cfg,
		clock:       clk,
	}
}

// Create starts a party and returns its code, join link, QR image and a
// host token. When a host portal password is configured the request must
// carry its daily hash.
func (h *PartyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePartyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}

	if h.cfg.HostPortalPassword != "" {
		ok, err := crypto.VerifyHostPassword(h.cfg.HostPortalPassword, req.HostPortalPasswordHash, h.clock.Now())
		if err != nil {
			writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to hash host portal password", CodeInternal, err)
			return
		}
		if !ok {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadHostPassword, "invalid host portal password on party creation")
			writeError(w, http.StatusUnauthorized, "invalid host portal password", CodeUnauthenticated)
			return
		}
	}

	p, err := h.store.Create(r.Context(), req.HostName)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create party", CodeInternal, err)
		return
	}

	token, err := h.authService.GenerateToken(p.Code, services.RoleHost)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", CodeInternal, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreatePartyResponse{
		Code:      p.Code,
		JoinURL:   p.JoinURL,
		QRPayload: p.QRPayload,
		HostToken: token,
	})
}

func (h *PartyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Join adds a member. Duplicate names are allowed; a blank name is replaced
// with a generated one.
func (h *PartyHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req models.JoinPartyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}
	if isBlank(req.UserName) && h.names != nil {
		req.UserName = h.names.GenerateName()
	}

	p, err := h.store.Join(r.Context(), chi.URLParam(r, "code"), req.UserName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.JoinPartyResponse{Success: true, Party: p})
}

// UpdatePlayback is the HTTP form of the realtime updatePlayback event.
func (h *PartyHandler) UpdatePlayback(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePlaybackRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}

	p, err := h.store.UpdatePlayback(r.Context(), chi.URLParam(r, "code"), req.CurrentSong)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Close ends the party. Only its host may call this.
func (h *PartyHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Close(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
