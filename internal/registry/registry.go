// Package registry maintains one participant's conversation list: the
// denormalized last-message preview and this participant's unread counter.
// Registry mutations are driven only by confirmed store events or explicit
// read/delete calls, never by optimistic local state.
package registry

import (
	"sort"
	"sync"

	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/session"
	"github.com/lcastillo/vitrina/internal/store"
	"go.uber.org/zap"
)

// Summary is what the conversation list renders for one conversation.
type Summary struct {
	ConversationID      string
	CounterpartID       string
	CounterpartName     string
	CounterpartAvatar   string
	LastMessage         string
	LastMessageAt       int64
	LastMessageSenderID string
	Unread              int
}

// Registry is bound to one viewer session.
type Registry struct {
	db     *store.DB
	sess   *session.Session
	logger *zap.Logger

	mu        sync.Mutex
	summaries map[string]*Summary
}

// New creates a registry for one viewer.
func New(db *store.DB, sess *session.Session, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:        db,
		sess:      sess,
		logger:    logger,
		summaries: make(map[string]*Summary),
	}
}

// List performs a fresh read of the viewer's conversations, sorted by last
// message time descending. Unread counts are recomputed from durable is_read
// state rather than trusted from the denormalized counters, so a missed feed
// event can never leave the list undercounting.
func (r *Registry) List() ([]Summary, error) {
	convs, err := r.db.ListConversations(r.sess.Role, r.sess.ParticipantID)
	if err != nil {
		return nil, &chat.StoreError{Op: "list conversations", Err: err}
	}

	fresh := make(map[string]*Summary, len(convs))
	out := make([]Summary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		s, err := r.summarize(c)
		if err != nil {
			return nil, err
		}
		fresh[c.ID] = s
		out = append(out, *s)
	}

	r.mu.Lock()
	r.summaries = fresh
	r.mu.Unlock()
	return out, nil
}

func (r *Registry) summarize(c *store.Conversation) (*Summary, error) {
	unread, err := r.db.CountUnread(c.ID, r.sess.ParticipantID)
	if err != nil {
		return nil, &chat.StoreError{Op: "count unread", Err: err}
	}

	s := &Summary{
		ConversationID:      c.ID,
		LastMessage:         c.LastMessage,
		LastMessageAt:       c.LastMessageAt,
		LastMessageSenderID: c.LastMessageSenderID,
		Unread:              unread,
	}
	if r.sess.Role == chat.RoleCustomer {
		s.CounterpartID = c.BusinessID
		if b, err := r.db.GetBusiness(c.BusinessID); err == nil && b != nil {
			s.CounterpartName = b.Name
			s.CounterpartAvatar = b.AvatarURL
		}
	} else {
		s.CounterpartID = c.CustomerID
		if p, err := r.db.GetProfile(c.CustomerID); err == nil && p != nil {
			s.CounterpartName = p.DisplayName
			s.CounterpartAvatar = p.AvatarURL
		}
	}
	if s.CounterpartName == "" {
		s.CounterpartName = s.CounterpartID
	}
	return s, nil
}

// ApplyIncomingMessage folds one truly-new confirmed message into the
// in-memory list. The caller (the timeline's reconcile loop) guarantees it
// runs at most once per durable message id, so the unread increment stays
// exact. The sender's own messages refresh the preview without counting.
func (r *Registry) ApplyIncomingMessage(conversationID string, m *store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.summaries[conversationID]
	if !ok {
		c, err := r.db.GetConversation(conversationID)
		if err != nil || c == nil {
			r.logger.Warn("incoming message for unknown conversation",
				zap.String("conversation_id", conversationID), zap.Error(err))
			return
		}
		s, err = r.summarize(c)
		if err != nil {
			r.logger.Warn("failed to summarize conversation", zap.Error(err))
			return
		}
		// summarize already counted m if it is durable by now; avoid double count.
		r.summaries[conversationID] = s
		s.LastMessage = m.Content
		s.LastMessageAt = m.CreatedAt
		s.LastMessageSenderID = m.SenderID
		return
	}

	s.LastMessage = m.Content
	s.LastMessageAt = m.CreatedAt
	s.LastMessageSenderID = m.SenderID
	if m.SenderID != r.sess.ParticipantID {
		s.Unread++
	}
}

// MarkRead zeros the viewer's unread counter, durably and in the in-memory
// summary. The in-memory mirror does not wait for a feed echo.
func (r *Registry) MarkRead(conversationID string) error {
	if err := r.db.ZeroUnread(conversationID, r.sess.Role); err != nil {
		return &chat.StoreError{Op: "zero unread", Err: err}
	}
	r.mu.Lock()
	if s, ok := r.summaries[conversationID]; ok {
		s.Unread = 0
	}
	r.mu.Unlock()
	return nil
}

// Delete removes a conversation and, through the store cascade, all its
// messages. Only the conversation's customer or the business owner may do
// this; there is no soft delete and no recovery.
func (r *Registry) Delete(conversationID string) error {
	if err := session.ValidateID("conversation id", conversationID); err != nil {
		return err
	}
	c, err := r.db.GetConversation(conversationID)
	if err != nil {
		return &chat.StoreError{Op: "get conversation", Err: err}
	}
	if c == nil {
		return &chat.NotFoundError{Kind: "conversation", ID: conversationID}
	}
	if _, ok := r.db.RoleOf(c, r.sess.ParticipantID); !ok {
		return &chat.PermissionError{ConversationID: conversationID, ParticipantID: r.sess.ParticipantID}
	}

	ok, err := r.db.DeleteConversation(conversationID)
	if err != nil {
		return &chat.StoreError{Op: "delete conversation", Err: err}
	}
	if !ok {
		return &chat.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	r.mu.Lock()
	delete(r.summaries, conversationID)
	r.mu.Unlock()
	r.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("requested_by", r.sess.ParticipantID))
	return nil
}

// GetOrCreate resolves the single conversation between a customer and a
// business, creating it when the pair has never talked. The viewer must be
// one of the two participants.
func (r *Registry) GetOrCreate(customerID, businessID string) (*store.Conversation, error) {
	if err := session.ValidateID("customer id", customerID); err != nil {
		return nil, err
	}
	if err := session.ValidateID("business id", businessID); err != nil {
		return nil, err
	}

	// The viewer must be one of the two named participants.
	member := r.sess.ParticipantID == customerID
	if !member {
		b, err := r.db.GetBusiness(businessID)
		if err != nil {
			return nil, &chat.StoreError{Op: "get business", Err: err}
		}
		member = b != nil && b.OwnerID == r.sess.ParticipantID
	}
	if !member {
		return nil, &chat.PermissionError{ParticipantID: r.sess.ParticipantID}
	}

	existing, err := r.db.GetConversationByPair(customerID, businessID)
	if err != nil {
		return nil, &chat.StoreError{Op: "get conversation by pair", Err: err}
	}
	if existing != nil {
		return existing, nil
	}

	c := &store.Conversation{CustomerID: customerID, BusinessID: businessID}
	if err := r.db.CreateConversation(c); err != nil {
		return nil, &chat.StoreError{Op: "create conversation", Err: err}
	}
	return c, nil
}

// Snapshot returns the current in-memory summaries sorted by recency. Used
// by the event stream to push list updates without a store round trip.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	out := make([]Summary, 0, len(r.summaries))
	for _, s := range r.summaries {
		out = append(out, *s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt > out[j].LastMessageAt })
	return out
}
