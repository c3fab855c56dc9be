// Package timeline renders one open conversation for one viewer: the
// ordered message transcript with per-message delivery status, optimistic
// sends, and the reconcile loop that folds the store's change feed back
// into the local view.
package timeline

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/feed"
	"github.com/lcastillo/vitrina/internal/notify"
	"github.com/lcastillo/vitrina/internal/readstate"
	"github.com/lcastillo/vitrina/internal/registry"
	"github.com/lcastillo/vitrina/internal/session"
	"github.com/lcastillo/vitrina/internal/store"
	"go.uber.org/zap"
)

const previewLen = 100

// Entry is one rendered message. ID holds the durable id once confirmed;
// LocalID is the transient id assigned before the store confirms and doubles
// as the correlation id sent with the insert.
type Entry struct {
	ID        string
	LocalID   string
	SenderID  string
	Content   string
	CreatedAt int64
	Read      bool
	Status    chat.DeliveryStatus
}

// Update is pushed on the updates channel whenever the transcript changes.
// ConversationID names the conversation the update belongs to; consumers
// must drop updates for conversations they are not showing.
type Update struct {
	Kind           string // appended, reconciled, delivery, read
	ConversationID string
	Entry          Entry
}

// Inserter is the store capability Send depends on. *store.DB satisfies it;
// tests substitute failing or slow implementations.
type Inserter interface {
	InsertMessage(m *store.Message) (*store.Message, error)
}

// Timeline is bound to one viewer session. At most one conversation is open
// at a time; opening another cancels the previous feed subscription first.
type Timeline struct {
	db         *store.DB
	inserter   Inserter
	reg        *registry.Registry
	rs         *readstate.Synchronizer
	dispatcher notify.Dispatcher
	sess       *session.Session
	logger     *zap.Logger

	mu              sync.Mutex
	conversationID  string
	counterpartName string
	entries         []*Entry
	seen            map[string]struct{}
	loopDone        chan struct{}

	updates chan Update
}

// New creates a timeline for one viewer.
func New(db *store.DB, reg *registry.Registry, rs *readstate.Synchronizer, dispatcher notify.Dispatcher, sess *session.Session, logger *zap.Logger) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{
		db:         db,
		inserter:   db,
		reg:        reg,
		rs:         rs,
		dispatcher: dispatcher,
		sess:       sess,
		logger:     logger,
		seen:       make(map[string]struct{}),
		updates:    make(chan Update, 256),
	}
}

// Open subscribes to the conversation's inserts and is_read updates, then
// loads its full history ascending by created_at. The previous
// conversation's subscription is cancelled and its buffered updates dropped
// before the new one attaches. Viewing implies read, so open immediately
// issues the read-state transition.
func (t *Timeline) Open(conversationID string) ([]Entry, error) {
	if err := session.ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	c, err := t.db.GetConversation(conversationID)
	if err != nil {
		return nil, &chat.StoreError{Op: "get conversation", Err: err}
	}
	if c == nil {
		return nil, &chat.NotFoundError{Kind: "conversation", ID: conversationID}
	}
	role, ok := t.db.RoleOf(c, t.sess.ParticipantID)
	if !ok {
		return nil, &chat.PermissionError{ConversationID: conversationID, ParticipantID: t.sess.ParticipantID}
	}
	counterpartID := c.CustomerID
	if role == chat.RoleCustomer {
		counterpartID = c.BusinessID
	}
	counterpartName := t.db.DisplayNameFor(c, counterpartID)

	// Cancel the previous conversation's subscription and wait for its
	// reconcile loop to exit before touching the updates channel, so a
	// late emit cannot land after the drain below.
	t.sess.Detach()
	t.mu.Lock()
	done := t.loopDone
	t.mu.Unlock()
	if done != nil {
		<-done
	}

	t.mu.Lock()
	t.conversationID = conversationID
	t.counterpartName = counterpartName
	t.entries = nil
	t.seen = make(map[string]struct{})
	// Drop updates buffered while the previous conversation was open.
drain:
	for {
		select {
		case <-t.updates:
		default:
			break drain
		}
	}
	t.mu.Unlock()

	// Subscribe before loading history: a message committed between the two
	// lands in both the feed and the snapshot, and the id dedup collapses
	// it, whereas the reverse order silently loses it.
	ch, unsub := t.db.Feed().Subscribe(feed.Filter{
		Table:          "messages",
		ConversationID: conversationID,
		Kinds:          []feed.Kind{feed.KindInsert, feed.KindUpdate},
	}, 256)
	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})
	t.mu.Lock()
	t.loopDone = done
	t.mu.Unlock()
	t.sess.Attach(conversationID, func() {
		cancel()
		unsub()
	})
	go func() {
		defer close(done)
		t.reconcileLoop(ctx, ch)
	}()

	msgs, err := t.db.ListMessages(conversationID)
	if err != nil {
		t.sess.Detach()
		return nil, &chat.StoreError{Op: "list messages", Err: err}
	}
	t.mu.Lock()
	for i := range msgs {
		m := &msgs[i]
		if _, dup := t.seen[m.ID]; dup {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.insertOrdered(&Entry{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Read:      m.IsRead,
			Status:    chat.StatusSent,
		})
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if err := t.rs.MarkConversationRead(conversationID); err != nil {
		t.logger.Warn("mark-read on open failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return snapshot, nil
}

// Send appends the message optimistically with status=sending, then issues
// the durable insert. On failure the entry stays in place with status=error
// so the user can see it and retry; nothing is retried automatically.
func (t *Timeline) Send(conversationID, content string) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, &chat.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	t.mu.Lock()
	if t.conversationID != conversationID {
		t.mu.Unlock()
		return Entry{}, &chat.ValidationError{Field: "conversation id", Reason: "conversation is not open"}
	}
	entry := &Entry{
		LocalID:   uuid.New().String(),
		SenderID:  t.sess.ParticipantID,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
		Status:    chat.StatusSending,
	}
	t.entries = append(t.entries, entry)
	optimistic := *entry
	t.mu.Unlock()
	t.emit(Update{Kind: "appended", ConversationID: conversationID, Entry: optimistic})

	confirmed, err := t.inserter.InsertMessage(&store.Message{
		ConversationID: conversationID,
		SenderID:       optimistic.SenderID,
		Content:        content,
		ClientMsgID:    optimistic.LocalID,
	})
	if err != nil {
		t.mu.Lock()
		failed := optimistic
		if e := t.findByLocalID(optimistic.LocalID); e != nil && e.Status == chat.StatusSending {
			e.Status = chat.StatusError
			failed = *e
		}
		t.mu.Unlock()
		t.emit(Update{Kind: "delivery", ConversationID: conversationID, Entry: failed})
		return failed, &chat.StoreError{Op: "insert message", Err: err}
	}

	t.mu.Lock()
	e := t.findByLocalID(optimistic.LocalID)
	confirmedHere := e != nil && e.Status == chat.StatusSending
	if confirmedHere {
		// The feed echo has not claimed this entry yet; confirm in place.
		e.ID = confirmed.ID
		e.CreatedAt = confirmed.CreatedAt
		e.Status = chat.StatusSent
		t.seen[confirmed.ID] = struct{}{}
	}
	var sent Entry
	if e != nil {
		sent = *e
	}
	t.mu.Unlock()

	if confirmedHere {
		t.emit(Update{Kind: "delivery", ConversationID: conversationID, Entry: sent})
		// The echo will be dropped as a duplicate, so the registry preview
		// is applied from here. Own messages never touch unread counters.
		t.reg.ApplyIncomingMessage(conversationID, confirmed)
	}
	return sent, nil
}

// Entries returns a copy of the current transcript.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Updates is the stream the UI layer consumes. Delivery is best-effort:
// a slow consumer loses updates and recovers from Entries().
func (t *Timeline) Updates() <-chan Update {
	return t.updates
}

// Close cancels the open conversation's subscription.
func (t *Timeline) Close() {
	t.sess.Detach()
}

func (t *Timeline) snapshotLocked() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

func (t *Timeline) findByLocalID(localID string) *Entry {
	for _, e := range t.entries {
		if e.LocalID == localID {
			return e
		}
	}
	return nil
}

func (t *Timeline) emit(u Update) {
	select {
	case t.updates <- u:
	default:
	}
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
