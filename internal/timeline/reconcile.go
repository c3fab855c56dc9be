package timeline

import (
	"context"

	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/feed"
	"github.com/lcastillo/vitrina/internal/notify"
	"github.com/lcastillo/vitrina/internal/store"
	"go.uber.org/zap"
)

// reconcileLoop consumes the open conversation's change feed until the
// subscription is cancelled. One loop runs per open conversation.
func (t *Timeline) reconcileLoop(ctx context.Context, ch <-chan feed.Event) {
	for {
		select {
		case evt := <-ch:
			switch evt.Kind {
			case feed.KindInsert:
				if m, ok := evt.Record.(store.Message); ok {
					t.reconcileInsert(&m)
				}
			case feed.KindUpdate:
				if m, ok := evt.Record.(store.Message); ok {
					t.applyReadUpdate(&m)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// reconcileInsert merges one confirmed message into the transcript. The same
// logical message can arrive twice — as the sender's optimistic copy and as
// the store's confirmed echo — and must collapse into one entry, while a
// counterpart message is always treated as newly arrived. Duplicate feed
// deliveries are dropped on the durable message id.
func (t *Timeline) reconcileInsert(m *store.Message) {
	t.mu.Lock()
	if m.ConversationID != t.conversationID {
		t.mu.Unlock()
		return
	}
	if _, dup := t.seen[m.ID]; dup {
		t.mu.Unlock()
		return
	}
	t.seen[m.ID] = struct{}{}

	var entry Entry
	reconciled := false
	if match := t.findOptimistic(m); match != nil {
		// Reconciliation: confirm the optimistic entry in place. Position is
		// preserved; no unread increment, no notification.
		match.ID = m.ID
		match.CreatedAt = m.CreatedAt
		match.Status = chat.StatusSent
		entry = *match
		reconciled = true
	} else {
		e := &Entry{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Read:      m.IsRead,
			Status:    chat.StatusSent,
		}
		t.insertOrdered(e)
		entry = *e
	}
	fromCounterpart := m.SenderID != t.sess.ParticipantID
	counterpart := t.counterpartName
	t.mu.Unlock()

	kind := "appended"
	if reconciled {
		kind = "reconciled"
	}
	t.emit(Update{Kind: kind, ConversationID: m.ConversationID, Entry: entry})
	t.reg.ApplyIncomingMessage(m.ConversationID, m)

	if reconciled || !fromCounterpart {
		// Own messages, whether reconciliations or arrivals from another
		// device, never notify and never trigger a read transition.
		return
	}

	if t.dispatcher != nil {
		n := notify.Notification{
			ConversationID:  m.ConversationID,
			RecipientRole:   t.sess.Role,
			CounterpartName: counterpart,
			Preview:         truncate(m.Content, previewLen),
		}
		if err := t.dispatcher.Notify(context.Background(), n); err != nil {
			t.logger.Warn("notification dispatch failed",
				zap.String("conversation_id", m.ConversationID), zap.Error(err))
		}
	}

	// Viewing implies read: the recipient has this conversation open.
	if err := t.rs.MarkConversationRead(m.ConversationID); err != nil {
		t.logger.Warn("mark-read after arrival failed",
			zap.String("conversation_id", m.ConversationID), zap.Error(err))
	}
}

// findOptimistic matches a confirmed message against a pending local entry.
// The correlation id wins; content+sender equality is only the fallback for
// records inserted without one, and takes the oldest pending entry so two
// rapid identical sends reconcile in order.
func (t *Timeline) findOptimistic(m *store.Message) *Entry {
	if m.ClientMsgID != "" {
		for _, e := range t.entries {
			if e.Status == chat.StatusSending && e.LocalID == m.ClientMsgID && e.SenderID == m.SenderID {
				return e
			}
		}
		return nil
	}
	for _, e := range t.entries {
		if e.Status == chat.StatusSending && e.SenderID == m.SenderID && e.Content == m.Content {
			return e
		}
	}
	return nil
}

// insertOrdered places a confirmed entry by created_at among the other
// confirmed entries. Pending and failed local entries stay at the tail in
// local insertion order; confirmed arrivals always slot in before them, so
// that a pending send confirming later (with a later created_at) cannot end
// up rendered ahead of an earlier counterpart message.
func (t *Timeline) insertOrdered(e *Entry) {
	idx := len(t.entries)
	for idx > 0 {
		prev := t.entries[idx-1]
		if prev.Status != chat.StatusSent || prev.CreatedAt > e.CreatedAt {
			idx--
			continue
		}
		break
	}
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = e
}

// applyReadUpdate folds an is_read change into the transcript. The flag is
// monotonic: an update can only move false to true.
func (t *Timeline) applyReadUpdate(m *store.Message) {
	t.mu.Lock()
	if m.ConversationID != t.conversationID || !m.IsRead {
		t.mu.Unlock()
		return
	}
	var changed *Entry
	for _, e := range t.entries {
		if e.ID == m.ID && !e.Read {
			e.Read = true
			changed = e
			break
		}
	}
	var entry Entry
	if changed != nil {
		entry = *changed
	}
	t.mu.Unlock()
	if changed != nil {
		t.emit(Update{Kind: "read", ConversationID: m.ConversationID, Entry: entry})
	}
}
