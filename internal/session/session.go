// Package session holds the explicit per-viewer context: who is looking,
// in which role, and which conversation's change-feed subscription they own.
// Nothing here is ambient; every engine call receives the session it acts for.
package session

import (
	"sync"

	"github.com/lcastillo/vitrina/internal/chat"
)

// Session is one viewer's context. The open-conversation subscription is
// owned here so that opening a new conversation (or tearing the session
// down) always cancels the previous listener first.
type Session struct {
	ParticipantID string
	Role          chat.Role

	mu               sync.Mutex
	openConversation string
	unsubscribe      func()
}

// New validates the participant identity and role and returns a session.
func New(participantID string, role chat.Role) (*Session, error) {
	if err := ValidateID("participant id", participantID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &chat.ValidationError{Field: "role", Reason: "must be customer or business"}
	}
	return &Session{ParticipantID: participantID, Role: role}, nil
}

// OpenConversation returns the id of the conversation this session is
// currently viewing, or empty.
func (s *Session) OpenConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openConversation
}

// Viewing reports whether the session currently has conversationID open.
func (s *Session) Viewing(conversationID string) bool {
	return s.OpenConversation() == conversationID
}

// Attach records conversationID as open and takes ownership of its
// subscription cancel func. Any previous subscription is cancelled first so
// events for the old conversation can never be misapplied to the new one.
func (s *Session) Attach(conversationID string, unsubscribe func()) {
	s.mu.Lock()
	prev := s.unsubscribe
	s.openConversation = conversationID
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Detach cancels the open conversation's subscription, if any. Safe to call
// repeatedly; also used at session teardown.
func (s *Session) Detach() {
	s.mu.Lock()
	prev := s.unsubscribe
	s.openConversation = ""
	s.unsubscribe = nil
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}
