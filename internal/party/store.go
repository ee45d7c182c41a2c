package party

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const maxCodeAttempts = 100

// Publisher fans out a committed change to everyone watching a party.
// Publish must not block.
type Publisher interface {
	Publish(room, event string, payload any) int
}

// Renderer turns the join URL into the QR image stored on the party.
type Renderer interface {
	Render(content string) ([]byte, error)
}

// Options configures a Store. Zero values get working defaults.
type Options struct {
	Backend     Backend
	Publisher   Publisher
	Renderer    Renderer
	Clock       clock.Clock
	Policy      VotePolicy
	FrontendURL string
	// IdleTimeout is how long a party may go without a mutation before the
	// reaper closes it. Zero keeps parties forever.
	IdleTimeout time.Duration
	// NewCode overrides the party code generator.
	NewCode func() (string, error)
}

// Store owns every party and serializes mutation per party code.
type Store struct {
	backend     Backend
	publisher   Publisher
	renderer    Renderer
	clock       clock.Clock
	policy      VotePolicy
	frontendURL string
	idleTimeout time.Duration
	newCode     func() (string, error)

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store from opts.
func NewStore(opts Options) *Store {
	s := &Store{
		backend:     opts.Backend,
		publisher:   opts.Publisher,
		renderer:    opts.Renderer,
		clock:       opts.Clock,
		policy:      opts.Policy,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		idleTimeout: opts.IdleTimeout,
		newCode:     opts.NewCode,
		locks:       make(map[string]*keyLock),
	}
	if s.backend == nil {
		s.backend = NewMemoryBackend()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.newCode == nil {
		s.newCode = NewCode
	}
	return s
}

// NewCode returns eight random upper-case hex characters.
func NewCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeCode makes user-typed codes comparable with generated ones.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// VotePolicy reports the policy votes are counted with.
func (s *Store) VotePolicy() VotePolicy {
	return s.policy
}

// lock acquires the exclusive lock for code and returns its release func.
// Entries are reference counted so the map only holds codes in use.
func (s *Store) lock(code string) func() {
	s.mu.Lock()
	l, ok := s.locks[code]
	if !ok {
		l = &keyLock{}
		s.locks[code] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, code)
		}
		s.mu.Unlock()
	}
}

// Create starts a new party hosted by hostName.
func (s *Store) Create(ctx context.Context, hostName string) (*Party, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		hostName = AnonymousName
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate party code: %w", err)
		}
		code = NormalizeCode(code)

		joinURL := s.frontendURL + "/join/" + code
		var qr []byte
		if s.renderer != nil {
			qr, err = s.renderer.Render(joinURL)
			if err != nil {
				return nil, fmt.Errorf("render join QR code: %w", err)
			}
		}

		now := s.clock.Now().UTC()
		p := &Party{
			Code:      code,
			Host:      hostName,
			CreatedAt: now,
			UpdatedAt: now,
			JoinURL:   joinURL,
			Members:   []Member{},
			Queue:     []QueueEntry{},
			QRPayload: qr,
		}

		err = s.backend.Insert(ctx, p)
		if errors.Is(err, ErrCodeTaken) {
			slog.Debug("party code collision, retrying", slog.String("code", code), slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert party: %w", err)
		}

		slog.Info("party created", slog.String("code", code), slog.String("host", hostName))
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// Get returns a snapshot of the party.
func (s *Store) Get(ctx context.Context, code string) (*Party, error) {
	p, err := s.backend.Load(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Join appends a member and returns the updated party.
func (s *Store) Join(ctx context.Context, code, userName string) (*Party, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = AnonymousName
	}
	return s.mutate(ctx, code, EventPartyUpdated,
		func(p *Party) error {
			p.Members = append(p.Members, Member{Name: userName, JoinedAt: s.clock.Now().UTC()})
			return nil
		},
		func(p *Party) any { return p },
	)
}

// AddToQueue queues track and returns the re-sorted queue.
func (s *Store) AddToQueue(ctx context.Context, code string, track Track, addedBy string) ([]QueueEntry, error) {
	addedBy = strings.TrimSpace(addedBy)
	if addedBy == "" {
		addedBy = AnonymousName
	}
	p, err := s.mutate(ctx, code, EventQueueUpdated,
		func(p *Party) error {
			p.Queue = Enqueue(p.Queue, QueueEntry{
				Track:   track,
				AddedBy: addedBy,
				AddedAt: s.clock.Now().UTC(),
				Voters:  []string{},
			})
			return nil
		},
		func(p *Party) any { return p.Queue },
	)
	if err != nil {
		return nil, err
	}
	return p.Queue, nil
}

// Vote applies a vote on the entry currently at index.
func (s *Store) Vote(ctx context.Context, code string, index int, voter string, dir Direction) ([]QueueEntry, error) {
	p, err := s.mutate(ctx, code, EventQueueUpdated,
		func(p *Party) error {
			queue, err := ApplyVote(p.Queue, index, voter, dir, s.policy)
			if err != nil {
				return err
			}
			p.Queue = queue
			return nil
		},
		func(p *Party) any { return p.Queue },
	)
	if err != nil {
		return nil, err
	}
	return p.Queue, nil
}

// UpdatePlayback replaces the current song. A nil track clears it.
func (s *Store) UpdatePlayback(ctx context.Context, code string, track *Track) (*Party, error) {
	return s.mutate(ctx, code, EventPlaybackUpdated,
		func(p *Party) error {
			if track == nil {
				p.CurrentSong = nil
				return nil
			}
			song := *track
			p.CurrentSong = &song
			return nil
		},
		func(p *Party) any { return p.CurrentSong },
	)
}

// Close ends a party on the host's request.
func (s *Store) Close(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	unlock := s.lock(code)
	defer unlock()

	if err := s.backend.Delete(ctx, code); err != nil {
		return err
	}
	slog.Info("party closed", slog.String("code", code))
	s.publish(code, EventPartyClosed, ClosedNotice{Code: code, Reason: "closed"})
	return nil
}

// ReapIdle closes every party that has not changed within the idle timeout
// and returns how many were closed.
func (s *Store) ReapIdle(ctx context.Context) (int, error) {
	if s.idleTimeout <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().UTC().Add(-s.idleTimeout)
	codes, err := s.backend.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle parties: %w", err)
	}

	closed := 0
	for _, code := range codes {
		ok, err := s.expire(ctx, code, cutoff)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (s *Store) expire(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	unlock := s.lock(code)
	defer unlock()

	// Re-check under the lock: a mutation may have landed since the scan.
	p, err := s.backend.Load(ctx, code)
	if errors.Is(err, ErrPartyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load party %s: %w", code, err)
	}
	if !p.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	if err := s.backend.Delete(ctx, code); err != nil && !errors.Is(err, ErrPartyNotFound) {
		return false, fmt.Errorf("delete party %s: %w", code, err)
	}
	slog.Info("party expired", slog.String("code", code), slog.Time("last_activity", p.UpdatedAt))
	s.publish(code, EventPartyClosed, ClosedNotice{Code: code, Reason: "expired"})
	return true, nil
}

// Run reaps idle parties every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReapIdle(ctx)
			if err != nil {
				slog.Error("reaping idle parties failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("reaped idle parties", slog.Int("count", n))
			}
		}
	}
}

// mutate runs apply on a fresh copy of the party under its lock, commits the
// result and publishes event with the payload picked from the committed
// snapshot. Nothing is committed or published if apply fails.
func (s *Store) mutate(ctx context.Context, code, event string, apply func(*Party) error, payload func(*Party) any) (*Party, error) {
	code = NormalizeCode(code)
	unlock := s.lock(code)
	defer unlock()

	p, err := s.backend.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := apply(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.clock.Now().UTC()
	if err := s.backend.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save party %s: %w", code, err)
	}

	snapshot := p.Clone()
	s.publish(code, event, payload(snapshot))
	return snapshot, nil
}

func (s *Store) publish(code, event string, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(code, event, payload)
}
