package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TokenStore keeps the catalog token obtained by each listener session.
// Entries are evicted after ttl or when more than size sessions are held.
type TokenStore struct {
	cache *expirable.LRU[string, SpotifyToken]
}

func NewTokenStore(size int, ttl time.Duration) *TokenStore {
	if size <= 0 {
		size = 10000
	}
	return &TokenStore{cache: expirable.NewLRU[string, SpotifyToken](size, nil, ttl)}
}

// Put stores a copy of tok for sessionID.
func (s *TokenStore) Put(sessionID string, tok *SpotifyToken) {
	s.cache.Add(sessionID, *tok)
}

func (s *TokenStore) Get(sessionID string) (*SpotifyToken, bool) {
	tok, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	return &tok, true
}

func (s *TokenStore) Delete(sessionID string) {
	s.cache.Remove(sessionID)
}

func (s *TokenStore) Len() int {
	return s.cache.Len()
}
