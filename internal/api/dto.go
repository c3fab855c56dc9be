package api

import (
	"github.com/lcastillo/vitrina/internal/registry"
	"github.com/lcastillo/vitrina/internal/store"
	"github.com/lcastillo/vitrina/internal/timeline"
)

type createConversationRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
	BusinessID string `json:"business_id" validate:"required,max=64"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type conversationSummary struct {
	ConversationID      string `json:"conversation_id"`
	CounterpartID       string `json:"counterpart_id"`
	CounterpartName     string `json:"counterpart_name"`
	CounterpartAvatar   string `json:"counterpart_avatar,omitempty"`
	LastMessage         string `json:"last_message"`
	LastMessageAt       int64  `json:"last_message_at"`
	LastMessageSenderID string `json:"last_message_sender_id"`
	Unread              int    `json:"unread"`
}

type conversation struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	BusinessID        string `json:"business_id"`
	LastMessage       string `json:"last_message"`
	LastMessageAt     int64  `json:"last_message_at"`
	UnreadForCustomer int    `json:"unread_for_customer"`
	UnreadForBusiness int    `json:"unread_for_business"`
	CreatedAt         int64  `json:"created_at"`
}

type messageEntry struct {
	ID        string `json:"id,omitempty"`
	LocalID   string `json:"local_id,omitempty"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	Read      bool   `json:"read"`
	Status    string `json:"status"`
}

type timelineUpdate struct {
	Kind           string       `json:"kind"`
	ConversationID string       `json:"conversation_id"`
	Entry          messageEntry `json:"entry"`
}

func summaryDTO(s registry.Summary) conversationSummary {
	return conversationSummary{
		ConversationID:      s.ConversationID,
		CounterpartID:       s.CounterpartID,
		CounterpartName:     s.CounterpartName,
		CounterpartAvatar:   s.CounterpartAvatar,
		LastMessage:         s.LastMessage,
		LastMessageAt:       s.LastMessageAt,
		LastMessageSenderID: s.LastMessageSenderID,
		Unread:              s.Unread,
	}
}

func conversationDTO(c *store.Conversation) conversation {
	return conversation{
		ID:                c.ID,
		CustomerID:        c.CustomerID,
		BusinessID:        c.BusinessID,
		LastMessage:       c.LastMessage,
		LastMessageAt:     c.LastMessageAt,
		UnreadForCustomer: c.UnreadForCustomer,
		UnreadForBusiness: c.UnreadForBusiness,
		CreatedAt:         c.CreatedAt,
	}
}

func entryDTO(e timeline.Entry) messageEntry {
	return messageEntry{
		ID:        e.ID,
		LocalID:   e.LocalID,
		SenderID:  e.SenderID,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
		Read:      e.Read,
		Status:    string(e.Status),
	}
}

func updateDTO(u timeline.Update) timelineUpdate {
	return timelineUpdate{Kind: u.Kind, ConversationID: u.ConversationID, Entry: entryDTO(u.Entry)}
}
