package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoRecipient is returned when a notification has no phone number to go
// to, typically because no user has been registered yet.
var ErrNoRecipient = errors.New("no recipient")

// SMSSender delivers a text message. *modem.Modem implements it.
type SMSSender interface {
	SendSMS(ctx context.Context, recipient, message string) error
}

// Notifier renders payloads and sends them as SMS.
type Notifier struct {
	sender SMSSender
	logger *slog.Logger
}

// New returns a Notifier that sends through sender.
func New(sender SMSSender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{sender: sender, logger: logger}
}

// Notify renders p and sends it to the given phone number.
func (n *Notifier) Notify(ctx context.Context, to string, p Payload) error {
	if to == "" {
		return ErrNoRecipient
	}
	body := Render(p)
	if err := n.sender.SendSMS(ctx, to, string(body)); err != nil {
		return fmt.Errorf("notify %s: %w", to, err)
	}
	n.logger.Debug("Notification sent", "to", to, "length", len(body))
	return nil
}
