// Package notify is the boundary to user-facing notification delivery.
// The reconcile loop invokes a Dispatcher exactly once per truly-new
// counterpart message; how the notification reaches the user is not the
// chat engine's concern.
package notify

import (
	"context"

	"github.com/lcastillo/vitrina/internal/chat"
	"go.uber.org/zap"
)

// Notification is what the dispatcher receives per new counterpart message.
type Notification struct {
	ConversationID  string
	RecipientRole   chat.Role
	CounterpartName string
	Preview         string
}

// Dispatcher delivers one notification. Errors are logged by the caller and
// never propagate into reconciliation.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// LogDispatcher writes notifications to the log. It is the default when no
// delivery channel is configured and the stand-in used by tests.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher that only logs.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		zap.String("conversation_id", n.ConversationID),
		zap.String("from", n.CounterpartName),
		zap.String("preview", n.Preview))
	return nil
}
