// Package presence records which players are online on which server.
package presence

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is the player presence registry used by the broker. Player names
// are case-insensitive; the case reported by the server is kept.
type Store interface {
	// SetPlayers replaces the players of server.
	SetPlayers(ctx context.Context, server string, players []string) error
	// RemoveServer forgets every player of server.
	RemoveServer(ctx context.Context, server string) error
	// ServerFor returns the server a player is on.
	ServerFor(ctx context.Context, player string) (string, bool, error)
	// Snapshot returns server -> sorted players for every server with players.
	Snapshot(ctx context.Context) (map[string][]string, error)
	Close() error
}

type memoryStore struct {
	mu      sync.RWMutex
	servers map[string][]string
	index   map[string]string
}

func NewMemoryStore() Store {
	return &memoryStore{
		servers: make(map[string][]string),
		index:   make(map[string]string),
	}
}

func (s *memoryStore) SetPlayers(_ context.Context, server string, players []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(server)
	if len(players) == 0 {
		return nil
	}

	list := dedupe(players)
	s.servers[server] = list
	for _, p := range list {
		s.index[strings.ToLower(p)] = server
	}
	return nil
}

func (s *memoryStore) RemoveServer(_ context.Context, server string) error {
	s.mu.Lock()
	s.removeLocked(server)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) removeLocked(server string) {
	for _, p := range s.servers[server] {
		key := strings.ToLower(p)
		if s.index[key] == server {
			delete(s.index, key)
		}
	}
	delete(s.servers, server)
}

func (s *memoryStore) ServerFor(_ context.Context, player string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.index[strings.ToLower(player)]
	return server, ok, nil
}

func (s *memoryStore) Snapshot(_ context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make(map[string][]string, len(s.servers))
	for server, players := range s.servers {
		ret[server] = append([]string(nil), players...)
	}
	return ret, nil
}

func (s *memoryStore) Close() error {
	return nil
}

// dedupe drops case-insensitive duplicates and empty names and sorts the rest.
func dedupe(players []string) []string {
	seen := make(map[string]struct{}, len(players))
	ret := make([]string, 0, len(players))
	for _, p := range players {
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ret = append(ret, p)
	}
	sort.Strings(ret)
	return ret
}
