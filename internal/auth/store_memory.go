package auth

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory credential store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	creds []credential
}

type credential struct {
	apiUser string
	sor     string
	hash    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add registers a bcrypt hash for an api user and sor. Pass WildcardSOR to
// authorize the credential for every sor.
func (s *MemoryStore) Add(apiUser, sor, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, credential{apiUser: apiUser, sor: sor, hash: hash})
}

func (s *MemoryStore) Hashes(_ context.Context, apiUser, sor string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes []string
	for _, c := range s.creds {
		if c.apiUser == apiUser && (c.sor == sor || c.sor == WildcardSOR) {
			hashes = append(hashes, c.hash)
		}
	}
	return hashes, nil
}
