package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lcastillo/vitrina/internal/feed"
	"github.com/lcastillo/vitrina/internal/notify"
	"github.com/lcastillo/vitrina/internal/store"
)

func testServer(t *testing.T) (*httptest.Server, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, feed.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(db, notify.NewLogDispatcher(zap.NewNop()), zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = db.Close()
	})
	return ts, db
}

func seed(t *testing.T, db *store.DB) *store.Conversation {
	t.Helper()
	if err := db.UpsertProfile(&store.Profile{ID: "cust-1", DisplayName: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertBusiness(&store.Business{ID: "biz-1", OwnerID: "owner-1", Name: "Panadería Luna"}); err != nil {
		t.Fatal(err)
	}
	c := &store.Conversation{CustomerID: "cust-1", BusinessID: "biz-1"}
	if err := db.CreateConversation(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, participantID, role string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Participant-Id", participantID)
	req.Header.Set("X-Participant-Role", role)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestIdentityRequired(t *testing.T) {
	ts, _ := testServer(t)

	resp := doRequest(t, ts, http.MethodGet, "/v1/conversations", "", "customer", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/conversations", "cust-1", "admin", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateAndListConversations(t *testing.T) {
	ts, db := testServer(t)
	if err := db.UpsertProfile(&store.Profile{ID: "cust-1", DisplayName: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertBusiness(&store.Business{ID: "biz-1", OwnerID: "owner-1", Name: "Panadería Luna"}); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, ts, http.MethodPost, "/v1/conversations", "cust-1", "customer",
		map[string]string{"customer_id": "cust-1", "business_id": "biz-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, want 200", resp.StatusCode)
	}
	created := decodeBody[conversation](t, resp)
	if created.ID == "" || created.CustomerID != "cust-1" {
		t.Fatalf("unexpected conversation: %+v", created)
	}

	// Creating again returns the same conversation, not a duplicate.
	resp = doRequest(t, ts, http.MethodPost, "/v1/conversations", "cust-1", "customer",
		map[string]string{"customer_id": "cust-1", "business_id": "biz-1"})
	again := decodeBody[conversation](t, resp)
	if again.ID != created.ID {
		t.Errorf("second create returned %s, want %s", again.ID, created.ID)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/conversations", "owner-1", "business", nil)
	list := decodeBody[[]conversationSummary](t, resp)
	if len(list) != 1 {
		t.Fatalf("business list: got %d conversations, want 1", len(list))
	}
	if list[0].CounterpartName != "Ana" {
		t.Errorf("counterpart = %q, want Ana", list[0].CounterpartName)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	ts, _ := testServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/conversations", "cust-1", "customer",
		map[string]string{"customer_id": "cust-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing business_id: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, ts, http.MethodPost, "/v1/conversations", "stranger", "customer",
		map[string]string{"customer_id": "cust-1", "business_id": "biz-1"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger create: status = %d, want 403", resp.StatusCode)
	}
}

func TestSendAndListMessages(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)

	resp := doRequest(t, ts, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "cust-1", "customer",
		map[string]string{"content": "¿Tienen pan integral?"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send: status = %d, want 202", resp.StatusCode)
	}
	sent := decodeBody[messageEntry](t, resp)
	if sent.Content != "¿Tienen pan integral?" || sent.SenderID != "cust-1" {
		t.Fatalf("unexpected entry: %+v", sent)
	}

	resp = doRequest(t, ts, http.MethodGet, "/v1/conversations/"+c.ID+"/messages", "owner-1", "business", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", resp.StatusCode)
	}
	entries := decodeBody[[]messageEntry](t, resp)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Status != "sent" {
		t.Errorf("status = %q, want sent", entries[0].Status)
	}

	// Opening the transcript marked it read for the business side.
	conv, err := db.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadForBusiness != 0 {
		t.Errorf("unread_for_business = %d, want 0 after open", conv.UnreadForBusiness)
	}
}

func TestSendValidation(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)

	resp := doRequest(t, ts, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "cust-1", "customer",
		map[string]string{"content": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, ts, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "stranger", "customer",
		map[string]string{"content": "hola"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger send: status = %d, want 403", resp.StatusCode)
	}
}

func TestMarkRead(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)
	if _, err := db.InsertMessage(&store.Message{ConversationID: c.ID, SenderID: "cust-1", Content: "hola"}); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, ts, http.MethodPost, "/v1/conversations/"+c.ID+"/read", "owner-1", "business", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: status = %d, want 204", resp.StatusCode)
	}

	conv, err := db.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadForBusiness != 0 {
		t.Errorf("unread_for_business = %d, want 0", conv.UnreadForBusiness)
	}
}

func TestDeleteConversation(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)

	resp := doRequest(t, ts, http.MethodDelete, "/v1/conversations/"+c.ID, "stranger", "customer", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("stranger delete: status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, ts, http.MethodDelete, "/v1/conversations/"+c.ID, "cust-1", "customer", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", resp.StatusCode)
	}

	resp = doRequest(t, ts, http.MethodDelete, "/v1/conversations/"+c.ID, "cust-1", "customer", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete: status = %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketStreamsUpdates(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?conversation_id=" + c.ID
	header := http.Header{}
	header.Set("X-Participant-Id", "cust-1")
	header.Set("X-Participant-Role", "customer")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	// A message from the business side should arrive as a live update.
	if _, err := db.InsertMessage(&store.Message{ConversationID: c.ID, SenderID: "owner-1", Content: "¡Sí, recién horneado!"}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u timelineUpdate
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if u.Entry.Content != "¡Sí, recién horneado!" || u.Entry.SenderID != "owner-1" {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestWebsocketRejectsUnknownConversation(t *testing.T) {
	ts, _ := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?conversation_id=missing"
	header := http.Header{}
	header.Set("X-Participant-Id", "cust-1")
	header.Set("X-Participant-Role", "customer")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("dial should fail for unknown conversation")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestSharedViewerAcrossRequests(t *testing.T) {
	ts, db := testServer(t)
	c := seed(t, db)

	// Open via messages, then send without re-opening: same viewer state.
	resp := doRequest(t, ts, http.MethodGet, "/v1/conversations/"+c.ID+"/messages", "cust-1", "customer", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open: status = %d", resp.StatusCode)
	}
	for i := 0; i < 3; i++ {
		resp = doRequest(t, ts, http.MethodPost, "/v1/conversations/"+c.ID+"/messages", "cust-1", "customer",
			map[string]string{"content": fmt.Sprintf("mensaje %d", i)})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("send %d: status = %d", i, resp.StatusCode)
		}
	}

	msgs, err := db.ListMessages(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d durable messages, want 3", len(msgs))
	}
}
