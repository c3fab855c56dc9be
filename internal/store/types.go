package store

// Conversation is the durable pairing of one customer and one business,
// with denormalized preview fields and one unread counter per role.
type Conversation struct {
	ID                  string
	CustomerID          string
	BusinessID          string
	LastMessage         string
	LastMessageAt       int64
	LastMessageSenderID string
	UnreadForCustomer   int
	UnreadForBusiness   int
	CreatedAt           int64
}

// Message is one durable unit of conversation content. Only is_read ever
// changes after insert. ClientMsgID is the sender-generated correlation id
// used to match an optimistic copy against the confirmed echo.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	ClientMsgID    string
	IsRead         bool
	CreatedAt      int64
}

// Business is the minimal directory record the chat engine needs: owner
// identity, display name, and an optional Telegram channel for offline
// notifications. Full business management lives elsewhere.
type Business struct {
	ID             string
	OwnerID        string
	Name           string
	AvatarURL      string
	TelegramChatID int64
	CreatedAt      int64
}

// Profile is the customer-facing identity record used to resolve display
// names in registry summaries and notifications.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   int64
}
