package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/songify/partyqueue/internal/party"
)

var (
	// ErrUnauthenticated means the caller has no usable catalog token.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("upstream failure")
	// ErrMissingCode is returned when the OAuth callback carries no code.
	ErrMissingCode = errors.New("no code provided")
	// ErrMissingQuery is returned for an empty search.
	ErrMissingQuery = errors.New("query parameter required")
)

// UpstreamError describes a failed call to the external catalog.
type UpstreamError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: upstream timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Catalog is the external music service.
type Catalog interface {
	AuthorizeURL(state string) string
	ExchangeToken(ctx context.Context, code string) (*SpotifyToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (*SpotifyToken, error)
	SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]party.Track, error)
}

// tokenSkew refreshes tokens slightly before the catalog would reject them.
const tokenSkew = 60 * time.Second

type GatewayOptions struct {
	Catalog Catalog
	Tokens  *TokenStore
	Clock   clock.Clock
	// Timeout bounds each catalog call. Zero means 10s.
	Timeout     time.Duration
	SearchLimit int
	// SearchCacheTTL of zero disables the search cache.
	SearchCacheTTL  time.Duration
	SearchCacheSize int
}

// SessionGateway performs token exchange and search on behalf of listener
// sessions. It never touches party state.
type SessionGateway struct {
	catalog     Catalog
	tokens      *TokenStore
	clock       clock.Clock
	timeout     time.Duration
	searchLimit int
	searches    *expirable.LRU[string, []party.Track]
}

func NewSessionGateway(opts GatewayOptions) *SessionGateway {
	g := &SessionGateway{
		catalog:     opts.Catalog,
		tokens:      opts.Tokens,
		clock:       opts.Clock,
		timeout:     opts.Timeout,
		searchLimit: opts.SearchLimit,
	}
	if g.tokens == nil {
		g.tokens = NewTokenStore(0, 24*time.Hour)
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if g.searchLimit <= 0 {
		g.searchLimit = 20
	}
	if opts.SearchCacheTTL > 0 {
		size := opts.SearchCacheSize
		if size <= 0 {
			size = 512
		}
		g.searches = expirable.NewLRU[string, []party.Track](size, nil, opts.SearchCacheTTL)
	}
	return g
}

// Login returns the catalog authorization URL and the state value embedded in it.
func (g *SessionGateway) Login() (authURL, state string) {
	state = uuid.NewString()
	return g.catalog.AuthorizeURL(state), state
}

// Exchange trades an authorization code for a token and stores it under a
// new listener session ID.
func (g *SessionGateway) Exchange(ctx context.Context, code string) (string, *SpotifyToken, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil, ErrMissingCode
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tok, err := g.catalog.ExchangeToken(ctx, code)
	if err != nil {
		return "", nil, asUpstream("exchange token", err)
	}
	g.stamp(tok)

	sessionID := uuid.NewString()
	g.tokens.Put(sessionID, tok)
	return sessionID, tok, nil
}

// Search finds tracks for a listener session, refreshing its token when it
// has expired. Blank queries fail before the session is checked.
func (g *SessionGateway) Search(ctx context.Context, sessionID, query string) ([]party.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingQuery
	}
	tok, err := g.token(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(query)
	if g.searches != nil {
		if tracks, ok := g.searches.Get(key); ok {
			return cloneTracks(tracks), nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tracks, err := g.catalog.SearchTracks(callCtx, tok.AccessToken, query, g.searchLimit)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) && upErr.StatusCode == http.StatusUnauthorized {
			g.tokens.Delete(sessionID)
			return nil, fmt.Errorf("catalog rejected token: %w", ErrUnauthenticated)
		}
		return nil, asUpstream("search", err)
	}

	if g.searches != nil {
		g.searches.Add(key, cloneTracks(tracks))
	}
	return tracks, nil
}

func (g *SessionGateway) token(ctx context.Context, sessionID string) (*SpotifyToken, error) {
	if sessionID == "" {
		return nil, ErrUnauthenticated
	}
	tok, ok := g.tokens.Get(sessionID)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if tok.ExpiresAt.IsZero() || g.clock.Now().Before(tok.ExpiresAt) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		g.tokens.Delete(sessionID)
		return nil, fmt.Errorf("token expired: %w", ErrUnauthenticated)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	refreshed, err := g.catalog.RefreshToken(ctx, tok.RefreshToken)
	if err != nil {
		return nil, asUpstream("refresh token", err)
	}
	g.stamp(refreshed)
	g.tokens.Put(sessionID, refreshed)
	slog.Debug("refreshed catalog token", slog.String("session_id", sessionID))
	return refreshed, nil
}

func (g *SessionGateway) stamp(tok *SpotifyToken) {
	if tok.ExpiresIn <= 0 {
		return
	}
	tok.ExpiresAt = g.clock.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
}

func asUpstream(op string, err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &UpstreamError{Op: op, Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
}

func cloneTracks(tracks []party.Track) []party.Track {
	out := make([]party.Track, len(tracks))
	copy(out, tracks)
	return out
}
