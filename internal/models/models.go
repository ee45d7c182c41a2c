package models

import (
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/services"
)

// Host portal verification
type VerifyHostRequest struct {
	PasswordHash string `json:"passwordHash"`
}

type VerifyHostResponse struct {
	Valid    bool `json:"valid"`
	Required bool `json:"required"`
}

// Party lifecycle
type CreatePartyRequest struct {
	HostName               string `json:"hostName"`
	HostPortalPasswordHash string `json:"hostPortalPasswordHash,omitempty"`
}

type CreatePartyResponse struct {
	Code      string `json:"code"`
	JoinURL   string `json:"joinUrl"`
	QRPayload []byte `json:"qrPayload"` // base64 PNG
	HostToken string `json:"hostToken"`
}

type JoinPartyRequest struct {
	UserName string `json:"userName"`
}

type JoinPartyResponse struct {
	Success bool         `json:"success"`
	Party   *party.Party `json:"party"`
}

type UpdatePlaybackRequest struct {
	CurrentSong *party.Track `json:"currentSong"`
}

// Queue
type AddToQueueRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int64  `json:"durationMs"`
	URI        string `json:"uri"`
	ImageURL   string `json:"imageUrl,omitempty"`
	AddedBy    string `json:"addedBy"`
}

func (r AddToQueueRequest) Track() party.Track {
	return party.Track{
		ID:         r.ID,
		Name:       r.Name,
		Artist:     r.Artist,
		Album:      r.Album,
		DurationMS: r.DurationMS,
		URI:        r.URI,
		ImageURL:   r.ImageURL,
	}
}

type VoteRequest struct {
	Voter     string `json:"voter"`
	Direction string `json:"direction"` // "up" or "down"
}

type QueueResponse struct {
	Success bool               `json:"success"`
	Queue   []party.QueueEntry `json:"queue"`
}

// Catalog
type SearchResponse struct {
	Tracks []party.Track `json:"tracks"`
}

type LoginResponse struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

type CallbackResponse struct {
	Success      bool                   `json:"success"`
	Token        *services.SpotifyToken `json:"token"`
	SessionToken string                 `json:"sessionToken"`
}

// Public configuration
type PublicConfigResponse struct {
	FrontendURL          string `json:"frontendUrl"`
	VotePolicy           string `json:"votePolicy"`
	SpotifyClientID      string `json:"spotifyClientId"`
	HostPasswordRequired bool   `json:"hostPasswordRequired"`
}

// Realtime frames
type RoomRequest struct {
	Code string `json:"code"`
}

type PlaybackEvent struct {
	Code        string       `json:"code"`
	CurrentSong *party.Track `json:"currentSong"`
}

// Error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
