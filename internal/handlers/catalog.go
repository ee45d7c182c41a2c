package handlers

import (
	"net/http"

	"github.com/songify/partyqueue/internal/middleware"
	"github.com/songify/partyqueue/internal/models"
	"github.com/songify/partyqueue/internal/services"
)

// CatalogHandler handles the music service login flow and track search.
type CatalogHandler struct {
	gateway     *services.SessionGateway
	authService *services.AuthService
}

func NewCatalogHandler(gateway *services.SessionGateway, authService *services.AuthService) *CatalogHandler {
	return &CatalogHandler{gateway: gateway, authService: authService}
}

// Login returns the URL the browser should visit to authorize the app.
func (h *CatalogHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, state := h.gateway.Login()
	writeJSON(w, http.StatusOK, models.LoginResponse{AuthURL: authURL, State: state})
}

// Callback completes the authorization code exchange. The catalog token is
// kept server-side under a new listener session; the caller receives the
// token object and a session token to present on search.
func (h *CatalogHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+reason, CodeValidation)
		return
	}

	sessionID, tok, err := h.gateway.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	sessionToken, err := h.authService.GenerateToken(sessionID, services.RoleListener)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", CodeInternal, err)
		return
	}

	writeJSON(w, http.StatusOK, models.CallbackResponse{Success: true, Token: tok, SessionToken: sessionToken})
}

// Search returns normalized tracks for q. Requires a listener session token.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if claims := middleware.GetClaims(r.Context()); claims != nil && claims.Role == services.RoleListener {
		sessionID = claims.Subject
	}

	tracks, err := h.gateway.Search(r.Context(), sessionID, r.URL.Query().Get("q"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SearchResponse{Tracks: tracks})
}
