package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/store"
	"go.uber.org/zap"
)

// TelegramDispatcher forwards business-side notifications to the owner's
// Telegram chat. Customers have no Telegram channel, so notifications for
// the customer role fall through to the log.
type TelegramDispatcher struct {
	bot    *tgbotapi.BotAPI
	db     *store.DB
	logger *zap.Logger
}

// NewTelegramDispatcher authenticates the bot with the given token.
func NewTelegramDispatcher(token string, db *store.DB, logger *zap.Logger) (*TelegramDispatcher, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot auth: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("telegram notifier ready", zap.String("bot", bot.Self.UserName))
	return &TelegramDispatcher{bot: bot, db: db, logger: logger}, nil
}

func (d *TelegramDispatcher) Notify(_ context.Context, n Notification) error {
	if n.RecipientRole != chat.RoleBusiness {
		d.logger.Debug("no telegram channel for customer notifications",
			zap.String("conversation_id", n.ConversationID))
		return nil
	}

	c, err := d.db.GetConversation(n.ConversationID)
	if err != nil {
		return fmt.Errorf("resolve conversation %s: %w", n.ConversationID, err)
	}
	if c == nil {
		return &chat.NotFoundError{Kind: "conversation", ID: n.ConversationID}
	}
	b, err := d.db.GetBusiness(c.BusinessID)
	if err != nil {
		return fmt.Errorf("resolve business %s: %w", c.BusinessID, err)
	}
	if b == nil {
		return &chat.NotFoundError{Kind: "business", ID: c.BusinessID}
	}
	if b.TelegramChatID == 0 {
		return nil
	}

	text := fmt.Sprintf("💬 %s: %s", n.CounterpartName, n.Preview)
	msg := tgbotapi.NewMessage(b.TelegramChatID, text)
	if _, err := d.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
