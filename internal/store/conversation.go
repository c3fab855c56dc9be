package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/feed"
)

// CreateConversation inserts a new conversation. The id and created_at are
// assigned here when unset, supporting both explicit pre-seeded creation and
// implicit creation on first send. The initial last_message_at is an activity
// stamp strictly past every other conversation's, so recency order never ties.
func (db *DB) CreateConversation(c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stamp, err := nextActivityStamp(tx)
	if err != nil {
		return err
	}
	c.LastMessageAt = stamp

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, customer_id, business_id, last_message, last_message_at, last_message_sender_id, unread_for_customer, unread_for_business, created_at)
		VALUES (?, ?, ?, '', ?, '', 0, 0, ?)`,
		c.ID, c.CustomerID, c.BusinessID, c.LastMessageAt, c.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	db.publish(feed.Event{
		Table:          "conversations",
		Kind:           feed.KindInsert,
		ConversationID: c.ID,
		Timestamp:      time.Now(),
		Record:         *c,
	})
	return nil
}

// nextActivityStamp returns a last_message_at value strictly greater than
// every conversation's current one, clamped to be at least the present time.
// Keeping the stamp unique store-wide makes recency order total.
func nextActivityStamp(tx *sql.Tx) (int64, error) {
	var max int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(last_message_at), 0) FROM conversations`).Scan(&max); err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	if now <= max {
		return max + 1, nil
	}
	return now, nil
}

// GetConversation returns a conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, customer_id, business_id, last_message, last_message_at, last_message_sender_id, unread_for_customer, unread_for_business, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CustomerID, &c.BusinessID, &c.LastMessage, &c.LastMessageAt, &c.LastMessageSenderID, &c.UnreadForCustomer, &c.UnreadForBusiness, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationByPair returns the single conversation between a customer
// and a business, or nil when the pair has never talked.
func (db *DB) GetConversationByPair(customerID, businessID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, customer_id, business_id, last_message, last_message_at, last_message_sender_id, unread_for_customer, unread_for_business, created_at
		FROM conversations WHERE customer_id = ? AND business_id = ?`, customerID, businessID).
		Scan(&c.ID, &c.CustomerID, &c.BusinessID, &c.LastMessage, &c.LastMessageAt, &c.LastMessageSenderID, &c.UnreadForCustomer, &c.UnreadForBusiness, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns a participant's conversations sorted by last
// message timestamp descending. Customers match on customer_id; business
// owners match through the businesses they own.
func (db *DB) ListConversations(role chat.Role, participantID string) ([]Conversation, error) {
	var rows *sql.Rows
	var err error
	switch role {
	case chat.RoleCustomer:
		rows, err = db.Query(`
			SELECT id, customer_id, business_id, last_message, last_message_at, last_message_sender_id, unread_for_customer, unread_for_business, created_at
			FROM conversations
			WHERE customer_id = ?
			ORDER BY last_message_at DESC, created_at DESC, id`, participantID)
	case chat.RoleBusiness:
		rows, err = db.Query(`
			SELECT c.id, c.customer_id, c.business_id, c.last_message, c.last_message_at, c.last_message_sender_id, c.unread_for_customer, c.unread_for_business, c.created_at
			FROM conversations c
			JOIN businesses b ON b.id = c.business_id
			WHERE b.owner_id = ?
			ORDER BY c.last_message_at DESC, c.created_at DESC, c.id`, participantID)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.BusinessID, &c.LastMessage, &c.LastMessageAt, &c.LastMessageSenderID, &c.UnreadForCustomer, &c.UnreadForBusiness, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CountUnread recomputes a viewer's unread count from durable is_read state.
// This is the correctness backstop for the denormalized counters: list views
// trust this number over incremental updates.
func (db *DB) CountUnread(conversationID, viewerID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`,
		conversationID, viewerID).Scan(&n)
	return n, err
}

// ZeroUnread durably resets one role's unread counter to zero.
func (db *DB) ZeroUnread(conversationID string, role chat.Role) error {
	column := "unread_for_customer"
	if role == chat.RoleBusiness {
		column = "unread_for_business"
	}
	_, err := db.Exec(`UPDATE conversations SET `+column+` = 0 WHERE id = ?`, conversationID)
	if err != nil {
		return err
	}
	c, err := db.GetConversation(conversationID)
	if err != nil || c == nil {
		return err
	}
	db.publish(feed.Event{
		Table:          "conversations",
		Kind:           feed.KindUpdate,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Record:         *c,
	})
	return nil
}

// DeleteConversation removes a conversation; its messages go with it via
// the foreign-key cascade. Returns false when the id did not resolve.
// Participant permission is checked by the registry, not here.
func (db *DB) DeleteConversation(id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	db.publish(feed.Event{
		Table:          "conversations",
		Kind:           feed.KindDelete,
		ConversationID: id,
		Timestamp:      time.Now(),
	})
	return true, nil
}

// RoleOf resolves which side of the conversation participantID is on.
// The business side matches through the owning account, not the business id.
func (db *DB) RoleOf(c *Conversation, participantID string) (chat.Role, bool) {
	if c == nil {
		return "", false
	}
	if participantID == c.CustomerID {
		return chat.RoleCustomer, true
	}
	b, err := db.GetBusiness(c.BusinessID)
	if err == nil && b != nil && b.OwnerID == participantID {
		return chat.RoleBusiness, true
	}
	return "", false
}
