package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lcastillo/vitrina/internal/feed"
)

// InsertMessage durably appends a message and, in the same transaction,
// refreshes the conversation's denormalized preview fields and increments
// the recipient's unread counter. The id and created_at are assigned here:
// created_at is forced strictly past the conversation's newest message and
// past every conversation's activity stamp, so neither transcript order nor
// recency order ever ties.
func (db *DB) InsertMessage(m *Message) (*Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxCreatedAt int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(created_at), 0) FROM messages WHERE conversation_id = ?`,
		m.ConversationID).Scan(&maxCreatedAt); err != nil {
		return nil, fmt.Errorf("read max created_at: %w", err)
	}
	stamp, err := nextActivityStamp(tx)
	if err != nil {
		return nil, fmt.Errorf("read activity stamp: %w", err)
	}

	confirmed := *m
	confirmed.ID = uuid.New().String()
	confirmed.IsRead = false
	confirmed.CreatedAt = stamp
	if confirmed.CreatedAt <= maxCreatedAt {
		confirmed.CreatedAt = maxCreatedAt + 1
	}

	res, err := tx.Exec(`
		UPDATE conversations SET
			last_message = ?,
			last_message_at = ?,
			last_message_sender_id = ?,
			unread_for_customer = unread_for_customer + (CASE WHEN ? = customer_id THEN 0 ELSE 1 END),
			unread_for_business = unread_for_business + (CASE WHEN ? = customer_id THEN 1 ELSE 0 END)
		WHERE id = ?`,
		confirmed.Content, confirmed.CreatedAt, confirmed.SenderID,
		confirmed.SenderID, confirmed.SenderID, confirmed.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("conversation %s does not exist", confirmed.ConversationID)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, content, is_read, created_at, client_msg_id)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		confirmed.ID, confirmed.ConversationID, confirmed.SenderID, confirmed.Content,
		confirmed.CreatedAt, confirmed.ClientMsgID); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	db.publish(feed.Event{
		Table:          "messages",
		Kind:           feed.KindInsert,
		ConversationID: confirmed.ConversationID,
		Timestamp:      time.Now(),
		Record:         confirmed,
	})
	if c, err := db.GetConversation(confirmed.ConversationID); err == nil && c != nil {
		db.publish(feed.Event{
			Table:          "conversations",
			Kind:           feed.KindUpdate,
			ConversationID: c.ID,
			Timestamp:      time.Now(),
			Record:         *c,
		})
	}
	return &confirmed, nil
}

// ListMessages returns the full ordered history for a conversation,
// ascending by created_at.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, is_read, created_at, client_msg_id
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt, &m.ClientMsgID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessagesRead bulk-flips is_read for every message in the conversation
// not sent by readerID. Idempotent: re-running with nothing unread affects
// zero rows. The flip is one-way; nothing in the store ever clears is_read.
func (db *DB) MarkMessagesRead(conversationID, readerID string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Select and update inside one transaction so the published events name
	// exactly the rows the flip touched.
	rows, err := tx.Query(`
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`,
		conversationID, readerID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`,
		conversationID, readerID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		db.publish(feed.Event{
			Table:          "messages",
			Kind:           feed.KindUpdate,
			ConversationID: conversationID,
			Timestamp:      time.Now(),
			Record:         Message{ID: id, ConversationID: conversationID, IsRead: true},
		})
	}
	return int64(len(ids)), nil
}
