package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/feed"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, feed.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConversation(t *testing.T, db *DB) *Conversation {
	t.Helper()
	if err := db.UpsertProfile(&Profile{ID: "cust-1", DisplayName: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertBusiness(&Business{ID: "biz-1", OwnerID: "owner-1", Name: "Panadería Luna"}); err != nil {
		t.Fatal(err)
	}
	c := &Conversation{CustomerID: "cust-1", BusinessID: "biz-1"}
	if err := db.CreateConversation(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + client_msg_id)", result.Version)
	}
}

func TestInsertMessageUpdatesConversation(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	confirmed, err := db.InsertMessage(&Message{
		ConversationID: c.ID, SenderID: "cust-1", Content: "Hola", ClientMsgID: "local-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.ID == "" || confirmed.CreatedAt == 0 {
		t.Fatalf("confirmed message missing id or timestamp: %+v", confirmed)
	}

	got, err := db.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessage != "Hola" {
		t.Errorf("last_message = %q, want Hola", got.LastMessage)
	}
	if got.LastMessageAt != confirmed.CreatedAt {
		t.Errorf("last_message_at = %d, want %d", got.LastMessageAt, confirmed.CreatedAt)
	}
	if got.LastMessageSenderID != "cust-1" {
		t.Errorf("last_message_sender_id = %q, want cust-1", got.LastMessageSenderID)
	}
	// A customer message counts against the business, never the sender.
	if got.UnreadForBusiness != 1 {
		t.Errorf("unread_for_business = %d, want 1", got.UnreadForBusiness)
	}
	if got.UnreadForCustomer != 0 {
		t.Errorf("unread_for_customer = %d, want 0", got.UnreadForCustomer)
	}
}

func TestInsertMessageStrictOrdering(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	m1, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "a"})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if m2.CreatedAt <= m1.CreatedAt {
		t.Errorf("created_at not strictly increasing: %d then %d", m1.CreatedAt, m2.CreatedAt)
	}

	msgs, err := db.ListMessages(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestInsertMessageUnknownConversation(t *testing.T) {
	db := testDB(t)
	if _, err := db.InsertMessage(&Message{ConversationID: "missing", SenderID: "x", Content: "y"}); err == nil {
		t.Error("expected error inserting into unknown conversation")
	}
}

func TestInsertMessagePublishesFeedEvents(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	msgCh, unsub := db.Feed().Subscribe(feed.Filter{Table: "messages", ConversationID: c.ID}, 10)
	defer unsub()
	convCh, unsub2 := db.Feed().Subscribe(feed.Filter{Table: "conversations", ConversationID: c.ID}, 10)
	defer unsub2()

	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "Hola"}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-msgCh:
		m, ok := evt.Record.(Message)
		if !ok || m.Content != "Hola" {
			t.Errorf("message event record = %+v", evt.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for messages insert event")
	}

	select {
	case evt := <-convCh:
		if evt.Kind != feed.KindUpdate {
			t.Errorf("conversation event kind = %q, want update", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conversations update event")
	}
}

func TestMarkMessagesRead(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "uno"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "dos"}); err != nil {
		t.Fatal(err)
	}
	// The reader's own message must never be flipped by the reader.
	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "owner-1", Content: "propio"}); err != nil {
		t.Fatal(err)
	}

	n, err := db.MarkMessagesRead(c.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d messages, want 2", n)
	}

	// Idempotent: nothing left to flip.
	n, err = db.MarkMessagesRead(c.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second mark affected %d rows, want 0", n)
	}

	msgs, err := db.ListMessages(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if m.SenderID == "cust-1" && !m.IsRead {
			t.Errorf("message %q still unread", m.Content)
		}
		if m.SenderID == "owner-1" && m.IsRead {
			t.Errorf("sender's own message %q marked read by sender", m.Content)
		}
	}
}

func TestZeroUnread(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "Hola"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ZeroUnread(c.ID, chat.RoleBusiness); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadForBusiness != 0 {
		t.Errorf("unread_for_business = %d, want 0", got.UnreadForBusiness)
	}

	// Zeroing an already-zero counter stays at zero, never negative.
	if err := db.ZeroUnread(c.ID, chat.RoleBusiness); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetConversation(c.ID)
	if got.UnreadForBusiness != 0 {
		t.Errorf("unread_for_business = %d after double zero, want 0", got.UnreadForBusiness)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "Hola"}); err != nil {
		t.Fatal(err)
	}

	ok, err := db.DeleteConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("delete reported no rows affected")
	}

	msgs, err := db.ListMessages(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after cascade delete, want 0", len(msgs))
	}

	ok, err = db.DeleteConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second delete should report not found")
	}
}

func TestListConversationsByRole(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	// Second customer talking to the same business.
	if err := db.UpsertProfile(&Profile{ID: "cust-2", DisplayName: "Benito"}); err != nil {
		t.Fatal(err)
	}
	c2 := &Conversation{CustomerID: "cust-2", BusinessID: "biz-1"}
	if err := db.CreateConversation(c2); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&Message{ConversationID: c2.ID, SenderID: "cust-2", Content: "later"}); err != nil {
		t.Fatal(err)
	}

	owned, err := db.ListConversations(chat.RoleBusiness, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Fatalf("owner sees %d conversations, want 2", len(owned))
	}
	if owned[0].ID != c2.ID {
		t.Errorf("most recently active conversation should sort first, got %s", owned[0].ID)
	}

	mine, err := db.ListConversations(chat.RoleCustomer, "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != c.ID {
		t.Errorf("customer list = %+v, want only %s", mine, c.ID)
	}
}

func TestMarkMessagesReadPublishesOneEventPerFlip(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)
	for i := 0; i < 2; i++ {
		if _, err := db.InsertMessage(&Message{ConversationID: c.ID, SenderID: "cust-1", Content: "hola"}); err != nil {
			t.Fatal(err)
		}
	}

	ch, unsub := db.Feed().Subscribe(feed.Filter{Table: "messages", ConversationID: c.ID, Kinds: []feed.Kind{feed.KindUpdate}}, 10)
	defer unsub()

	n, err := db.MarkMessagesRead(c.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("marked %d messages, want 2", n)
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			m, ok := evt.Record.(Message)
			if !ok || !m.IsRead {
				t.Fatalf("update event record = %+v", evt.Record)
			}
			if seen[m.ID] {
				t.Fatalf("duplicate read event for %s", m.ID)
			}
			seen[m.ID] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for is_read update event")
		}
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected extra event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListConversationsRecencyNeverTies(t *testing.T) {
	db := testDB(t)
	first := seedConversation(t, db)

	// Created in the same millisecond as first on a fast machine; messaging
	// first afterwards must still sort it on top.
	second := &Conversation{CustomerID: "cust-2", BusinessID: "biz-1"}
	if err := db.CreateConversation(second); err != nil {
		t.Fatal(err)
	}
	third := &Conversation{CustomerID: "cust-3", BusinessID: "biz-1"}
	if err := db.CreateConversation(third); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(&Message{ConversationID: first.ID, SenderID: "cust-1", Content: "hola"}); err != nil {
		t.Fatal(err)
	}

	owned, err := db.ListConversations(chat.RoleBusiness, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 3 {
		t.Fatalf("owner sees %d conversations, want 3", len(owned))
	}
	if owned[0].ID != first.ID {
		t.Errorf("just-messaged conversation should sort first, got %s", owned[0].ID)
	}
	for i := 1; i < len(owned); i++ {
		if owned[i].LastMessageAt >= owned[i-1].LastMessageAt {
			t.Errorf("activity stamps must be strictly decreasing, got %d then %d",
				owned[i-1].LastMessageAt, owned[i].LastMessageAt)
		}
	}
}

func TestRoleOf(t *testing.T) {
	db := testDB(t)
	c := seedConversation(t, db)

	if role, ok := db.RoleOf(c, "cust-1"); !ok || role != chat.RoleCustomer {
		t.Errorf("RoleOf(cust-1) = %v, %v", role, ok)
	}
	if role, ok := db.RoleOf(c, "owner-1"); !ok || role != chat.RoleBusiness {
		t.Errorf("RoleOf(owner-1) = %v, %v", role, ok)
	}
	if _, ok := db.RoleOf(c, "stranger"); ok {
		t.Error("RoleOf(stranger) should not resolve")
	}
}
