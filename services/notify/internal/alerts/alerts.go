// Package alerts turns credential security events into user-facing email.
package alerts

import (
	"context"
	"fmt"

	"github.com/diagnosis/reservaja/pkg/events"
	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/pkg/mailer"
)

const queueGroup = "notify-alerts"

type Notifier struct {
	mail mailer.Service
}

func NewNotifier(mail mailer.Service) *Notifier {
	return &Notifier{mail: mail}
}

// Subscribe registers the notifier on the bus. Instances share a queue group
// so each event is mailed once.
func (n *Notifier) Subscribe(ctx context.Context, bus events.Subscriber) error {
	return bus.QueueSubscribe(events.SessionReuseDetected, queueGroup, func(msg *events.Message) {
		if err := n.HandleReuseDetected(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "Failed to handle reuse event", "error", err, "message_id", msg.ID)
		}
	})
}

// HandleReuseDetected mails the account owner after a session family was
// revoked for token reuse.
func (n *Notifier) HandleReuseDetected(ctx context.Context, msg *events.Message) error {
	var evt events.SessionReuseDetectedEvent
	if err := msg.Decode(&evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Subject, err)
	}
	if evt.Email == "" {
		logger.WarnContext(ctx, "Reuse event without recipient", "user_id", evt.UserID, "family_id", evt.FamilyID)
		return nil
	}

	if err := n.mail.Send(ctx, mailer.SecurityAlertMessage(evt.Email, evt.Name, evt.DetectedAt)); err != nil {
		return fmt.Errorf("send security alert: %w", err)
	}

	logger.InfoContext(ctx, "Security alert sent", "user_id", evt.UserID, "family_id", evt.FamilyID)
	return nil
}
