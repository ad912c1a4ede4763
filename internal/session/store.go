// Package session tracks the per-chat prompt flow that turns a URL and a
// filename into a transfer request.
package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

type State int

const (
	Idle State = iota
	AwaitingFilename
	AwaitingDeliveryChoice
	Executing
)

func (s State) String() string {
	switch s {
	case AwaitingFilename:
		return "awaiting_filename"
	case AwaitingDeliveryChoice:
		return "awaiting_delivery_choice"
	case Executing:
		return "executing"
	default:
		return "idle"
	}
}

type Session struct {
	ChatID     int64
	State      State
	PendingURL string
	Filename   string
	Choice     transfer.Choice
	UpdatedAt  time.Time
}

// Store holds sessions keyed by chat id. Prompt states expire after the TTL;
// a chat that is executing stays claimed until Release.
type Store struct {
	mu        sync.Mutex
	prompts   *expirable.LRU[int64, Session]
	executing map[int64]Session
}

func NewStore(size int, ttl time.Duration) *Store {
	return &Store{
		prompts:   expirable.NewLRU[int64, Session](size, nil, ttl),
		executing: make(map[int64]Session),
	}
}

// Get returns the chat's session, or an Idle one when none is stored.
func (s *Store) Get(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(chatID)
}

func (s *Store) getLocked(chatID int64) Session {
	if sess, ok := s.executing[chatID]; ok {
		return sess
	}

	if sess, ok := s.prompts.Get(chatID); ok {
		return sess
	}

	return Session{ChatID: chatID, State: Idle}
}

// CompareAndSet stores next only if the chat is currently in state from.
func (s *Store) CompareAndSet(chatID int64, from State, next Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getLocked(chatID).State != from {
		return false
	}

	next.ChatID = chatID

	switch next.State {
	case Executing:
		s.prompts.Remove(chatID)
		s.executing[chatID] = next
	case Idle:
		s.prompts.Remove(chatID)
		delete(s.executing, chatID)
	default:
		delete(s.executing, chatID)
		s.prompts.Add(chatID, next)
	}

	return true
}

// Release returns an executing chat to Idle.
func (s *Store) Release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executing, chatID)
}

// Executing is the number of chats with a running transfer.
func (s *Store) Executing() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.executing)
}
