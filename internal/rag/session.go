package rag

import (
	"errors"
	"slices"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/helper"
)

var ErrSessionClosed = errors.New("session is closed")

// Session owns one conversation: its message history and the files that
// were ingested during it. Sessions are never shared.
type Session struct {
	ID string

	mu      sync.Mutex
	history []llms.MessageContent
	files   []string
	closed  bool
}

func NewSession() *Session {
	id, err := helper.GenerateUUID()
	if err != nil {
		id = "session"
	}
	return &Session{ID: id}
}

// History returns a copy of the ordered conversation
func (s *Session) History() []llms.MessageContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Files returns the names of files ingested in this session, oldest first
func (s *Session) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.files)
}

// AddFile records name and reports whether it was new to the session
func (s *Session) AddFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.files, name) {
		return false
	}
	s.files = append(s.files, name)
	return true
}

// Reset clears the conversation but keeps the file list
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.history = nil
	s.files = nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
