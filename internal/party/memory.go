package party

import (
	"context"
	"sync"
	"time"
)

// Backend persists parties by code. Implementations must be safe for
// concurrent use; Store provides the per-party write serialization on top.
type Backend interface {
	// Insert stores a new party. It returns ErrCodeTaken if the code is live.
	Insert(ctx context.Context, p *Party) error
	// Load returns a copy of the party or ErrPartyNotFound.
	Load(ctx context.Context, code string) (*Party, error)
	// Save overwrites an existing party or returns ErrPartyNotFound.
	Save(ctx context.Context, p *Party) error
	// Delete removes the party. Deleting an unknown code returns ErrPartyNotFound.
	Delete(ctx context.Context, code string) error
	// IdleSince lists codes whose UpdatedAt is before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MemoryBackend keeps parties in a process-local map.
type MemoryBackend struct {
	mu      sync.RWMutex
	parties map[string]*Party
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{parties: make(map[string]*Party)}
}

func (m *MemoryBackend) Insert(_ context.Context, p *Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[p.Code]; ok {
		return ErrCodeTaken
	}
	m.parties[p.Code] = p.Clone()
	return nil
}

func (m *MemoryBackend) Load(_ context.Context, code string) (*Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parties[code]
	if !ok {
		return nil, ErrPartyNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, p *Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[p.Code]; !ok {
		return ErrPartyNotFound
	}
	m.parties[p.Code] = p.Clone()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[code]; !ok {
		return ErrPartyNotFound
	}
	delete(m.parties, code)
	return nil
}

func (m *MemoryBackend) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var codes []string
	for code, p := range m.parties {
		if p.UpdatedAt.Before(cutoff) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// Len reports the number of stored parties.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parties)
}
