package session

import (
	"errors"
	"sync"

	"github.com/addhe/telegram-bot/llm"
)

// ErrSessionNotFound indicates an assistant turn was appended before the
// session was seeded. The turn handler's ordering makes this unreachable;
// seeing it means a caller bug.
var ErrSessionNotFound = errors.New("session not found")

// Store keeps the per-chat conversation history for the process lifetime.
// Sessions are seeded lazily with a single system persona turn and are
// never evicted unless a MaxTurns cap is configured.
type Store struct {
	mu       sync.Mutex
	persona  string
	maxTurns int
	sessions map[int64][]llm.Message
}

type Options struct {
	// Persona is the content of the system turn each session starts with.
	Persona string
	// MaxTurns caps the history length per chat, counting the system turn.
	// Zero means unbounded, which is the default behavior.
	MaxTurns int
}

func NewStore(opts Options) *Store {
	return &Store{
		persona:  opts.Persona,
		maxTurns: opts.MaxTurns,
		sessions: make(map[int64][]llm.Message),
	}
}

// GetOrCreate returns a snapshot of the chat's history, creating and
// seeding the session if the chat has not been seen before. Seeding is
// idempotent: the system turn is inserted exactly once.
func (s *Store) GetOrCreate(chatID int64) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(chatID)
	return append([]llm.Message(nil), s.sessions[chatID]...)
}

func (s *Store) getOrCreateLocked(chatID int64) {
	if _, ok := s.sessions[chatID]; ok {
		return
	}
	s.sessions[chatID] = []llm.Message{{Role: llm.RoleSystem, Content: s.persona}}
}

// AppendUser appends a user turn, seeding the session first if needed.
func (s *Store) AppendUser(chatID int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(chatID)
	s.sessions[chatID] = s.trimLocked(append(s.sessions[chatID], llm.Message{Role: llm.RoleUser, Content: text}))
}

// AppendAssistant appends an assistant turn to an existing session.
func (s *Store) AppendAssistant(chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[chatID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[chatID] = s.trimLocked(append(s.sessions[chatID], llm.Message{Role: llm.RoleAssistant, Content: text}))
	return nil
}

// Reset drops the chat's session. The next GetOrCreate reseeds it.
func (s *Store) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
}

// Exists reports whether the chat has a seeded session.
func (s *Store) Exists(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[chatID]
	return ok
}

// trimLocked enforces the MaxTurns cap, dropping the oldest user and
// assistant turns while keeping the leading system turn in place.
func (s *Store) trimLocked(msgs []llm.Message) []llm.Message {
	if s.maxTurns <= 0 || len(msgs) <= s.maxTurns {
		return msgs
	}
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		keep := s.maxTurns - 1
		if keep < 0 {
			keep = 0
		}
		tail := msgs[len(msgs)-keep:]
		return append([]llm.Message{msgs[0]}, tail...)
	}
	return msgs[len(msgs)-s.maxTurns:]
}
