package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/songify/partyqueue/internal/models"
	"github.com/songify/partyqueue/internal/party"
)

// QueueHandler handles song submissions and votes.
type QueueHandler struct {
	store *party.Store
}

func NewQueueHandler(store *party.Store) *QueueHandler {
	return &QueueHandler{store: store}
}

// Add queues a track and returns the re-sorted queue.
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req models.AddToQueueRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}
	if isBlank(req.ID) {
		writeError(w, http.StatusBadRequest, "track id is required", CodeValidation)
		return
	}

	queue, err := h.store.AddToQueue(r.Context(), chi.URLParam(r, "code"), req.Track(), req.AddedBy)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.QueueResponse{Success: true, Queue: queue})
}

// Vote casts an up or down vote on the entry at {index} in the current queue order.
func (h *QueueHandler) Vote(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer", CodeValidation)
		return
	}

	var req models.VoteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", CodeBadRequest)
		return
	}
	dir, err := party.ParseDirection(req.Direction)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	queue, err := h.store.Vote(r.Context(), chi.URLParam(r, "code"), index, req.Voter, dir)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.QueueResponse{Success: true, Queue: queue})
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
