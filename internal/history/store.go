// Package history keeps the per-user rolling conversation window that gives
// replies their context. Histories live in memory for the process lifetime.
package history

import (
	"sync"

	"relaybot/internal/domain"
)

// DefaultLimit is the number of turns kept per user, system turn included.
const DefaultLimit = 7

// Store maps a user key to its bounded history. It is safe for concurrent use:
// the map lock only guards lookup, each history has its own lock.
type Store struct {
	mu           sync.Mutex
	histories    map[string]*conversation
	systemPrompt string
	limit        int
}

type conversation struct {
	mu    sync.Mutex
	turns []domain.Message
}

// Config configures a Store.
type Config struct {
	SystemPrompt string
	Limit        int // max turns retained, system turn included
}

func New(cfg Config) *Store {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Store{
		histories:    make(map[string]*conversation),
		systemPrompt: cfg.SystemPrompt,
		limit:        cfg.Limit,
	}
}

// Limit returns the configured bound.
func (s *Store) Limit() int { return s.limit }

// GetOrCreate returns a copy of the user's history, creating it with the
// system turn on first access.
func (s *Store) GetOrCreate(userID string) []domain.Message {
	c := s.conversation(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append adds turns in order and evicts the oldest non-system turns until the
// history fits the bound. Turns passed together are appended atomically.
func (s *Store) Append(userID string, turns ...domain.Message) {
	if len(turns) == 0 {
		return
	}
	c := s.conversation(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range turns {
		c.turns = append(c.turns, domain.Message{Role: t.Role, Content: t.Content})
	}
	c.turns = evict(c.turns, s.limit)
}

// Reset drops the user's history. The next GetOrCreate starts fresh.
func (s *Store) Reset(userID string) {
	s.mu.Lock()
	delete(s.histories, userID)
	s.mu.Unlock()
}

// Users returns the number of tracked conversations.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

func (s *Store) conversation(userID string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.histories[userID]
	if !ok {
		c = &conversation{}
		if s.systemPrompt != "" {
			c.turns = []domain.Message{{Role: domain.RoleSystem, Content: s.systemPrompt}}
		}
		s.histories[userID] = c
	}
	return c
}

// evict removes the oldest non-system turns until len(turns) <= limit.
// A leading system turn is never removed.
func evict(turns []domain.Message, limit int) []domain.Message {
	excess := len(turns) - limit
	if excess <= 0 {
		return turns
	}
	start := 0
	if len(turns) > 0 && turns[0].Role == domain.RoleSystem {
		start = 1
	}
	if avail := len(turns) - start; excess > avail {
		excess = avail
	}
	out := make([]domain.Message, 0, len(turns)-excess)
	out = append(out, turns[:start]...)
	out = append(out, turns[start+excess:]...)
	return out
}
