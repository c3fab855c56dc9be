// Package readstate flips is_read flags and zeroes unread counters for one
// viewer. Both transitions are monotonic: a read message never becomes
// unread again, and a counter is set to exactly zero, never below.
package readstate

import (
	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/registry"
	"github.com/lcastillo/vitrina/internal/session"
	"github.com/lcastillo/vitrina/internal/store"
	"go.uber.org/zap"
)

// Synchronizer marks conversations read on behalf of one viewer session.
type Synchronizer struct {
	db     *store.DB
	reg    *registry.Registry
	sess   *session.Session
	logger *zap.Logger
}

// New creates a synchronizer bound to a viewer's session and registry.
func New(db *store.DB, reg *registry.Registry, sess *session.Session, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{db: db, reg: reg, sess: sess, logger: logger}
}

// MarkConversationRead durably flips is_read on every counterpart message
// still unread, then zeroes the viewer's counter durably and mirrors the
// zero into the in-memory registry. The counter write is issued only after
// the bulk flip, so the viewer's own logic can never undercount truly
// unread messages. Re-invoking with nothing unread is a no-op.
func (s *Synchronizer) MarkConversationRead(conversationID string) error {
	if err := session.ValidateID("conversation id", conversationID); err != nil {
		return err
	}
	c, err := s.db.GetConversation(conversationID)
	if err != nil {
		return &chat.StoreError{Op: "get conversation", Err: err}
	}
	if c == nil {
		return &chat.NotFoundError{Kind: "conversation", ID: conversationID}
	}
	if _, ok := s.db.RoleOf(c, s.sess.ParticipantID); !ok {
		return &chat.PermissionError{ConversationID: conversationID, ParticipantID: s.sess.ParticipantID}
	}

	n, err := s.db.MarkMessagesRead(conversationID, s.sess.ParticipantID)
	if err != nil {
		return &chat.StoreError{Op: "mark messages read", Err: err}
	}
	if n > 0 {
		s.logger.Debug("messages marked read",
			zap.String("conversation_id", conversationID),
			zap.Int64("count", n))
	}

	return s.reg.MarkRead(conversationID)
}
