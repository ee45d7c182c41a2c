package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/songify/partyqueue/internal/party"
)

const (
	spotifyAccountsURL = "https://accounts.spotify.com"
	spotifyAPIURL      = "https://api.spotify.com/v1"

	// SpotifyScopes are requested on login so the host can drive playback.
	SpotifyScopes = "user-read-playback-state user-modify-playback-state user-read-currently-playing playlist-read-private"
)

// SpotifyService talks to the Spotify accounts and Web API endpoints.
// It implements Catalog.
type SpotifyService struct {
	clientID     string
	clientSecret string
	redirectURI  string
	accountsURL  string
	apiURL       string
	httpClient   *http.Client
}

var _ Catalog = (*SpotifyService)(nil)

// SpotifyToken is the token object returned by the accounts service.
// ExpiresAt is stamped locally when the token is stored.
type SpotifyToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type spotifyTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URI        string `json:"uri"`
	DurationMS int64  `json:"duration_ms"`
	Album      struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

func NewSpotifyService(clientID, clientSecret, redirectURI string, timeout time.Duration) *SpotifyService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SpotifyService{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		accountsURL:  spotifyAccountsURL,
		apiURL:       spotifyAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithBaseURLs points the service at alternate accounts and API hosts.
func (s *SpotifyService) WithBaseURLs(accountsURL, apiURL string) *SpotifyService {
	s.accountsURL = strings.TrimRight(accountsURL, "/")
	s.apiURL = strings.TrimRight(apiURL, "/")
	return s
}

func (s *SpotifyService) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", s.redirectURI)
	q.Set("scope", SpotifyScopes)
	q.Set("state", state)
	return s.accountsURL + "/authorize?" + q.Encode()
}

func (s *SpotifyService) ExchangeToken(ctx context.Context, code string) (*SpotifyToken, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", s.redirectURI)
	return s.requestToken(ctx, "exchange token", data)
}

// RefreshToken trades a refresh token for a new access token. Spotify may
// omit a new refresh token, in which case the old one stays valid.
func (s *SpotifyService) RefreshToken(ctx context.Context, refreshToken string) (*SpotifyToken, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	tok, err := s.requestToken(ctx, "refresh token", data)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (s *SpotifyService) requestToken(ctx context.Context, op string, data url.Values) (*SpotifyToken, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.accountsURL+"/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(s.clientID + ":" + s.clientSecret))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var tok SpotifyToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("token response without access_token")}
	}
	return &tok, nil
}

// SearchTracks runs a track search and normalizes the results.
func (s *SpotifyService) SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]party.Track, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	searchURL := fmt.Sprintf("%s/search?q=%s&type=track&limit=%d", s.apiURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError("search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("search", resp)
	}

	var searchResp spotifySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, &UpstreamError{Op: "search", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode search response: %w", err)}
	}

	tracks := make([]party.Track, 0, len(searchResp.Tracks.Items))
	for _, item := range searchResp.Tracks.Items {
		tracks = append(tracks, item.toTrack())
	}
	return tracks, nil
}

func (t spotifyTrack) toTrack() party.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	track := party.Track{
		ID:         t.ID,
		Name:       t.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      t.Album.Name,
		DurationMS: t.DurationMS,
		URI:        t.URI,
	}
	if len(t.Album.Images) > 0 {
		track.ImageURL = t.Album.Images[0].URL
	}
	return track
}

func transportError(op string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &UpstreamError{Op: op, Timeout: timeout, Err: err}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &UpstreamError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}
