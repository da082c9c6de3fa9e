// Package notify delivers watcher events to operators over Discord and
// email. Delivery is best effort: failures are logged and never reach the
// reconciliation loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deploywatch/internal/project"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Message is one rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a message over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// NotificationError reports a failed delivery on one channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s notification failed: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Nop discards every message.
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) Notify(context.Context, Message) error { return nil }

// Dispatcher fans a message out to every configured notifier in order.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher over notifiers. With no notifiers every
// Send is a no-op.
func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   DefaultTimeout,
		logger:    logger,
	}
}

// FromConfig builds a Dispatcher for the channels enabled in cfg.
func FromConfig(cfg project.NotifyConfig, logger *slog.Logger) *Dispatcher {
	var notifiers []Notifier
	if cfg.DiscordWebhook != "" {
		notifiers = append(notifiers, NewDiscord(cfg.DiscordWebhook))
	}
	if email := NewEmail(cfg.Email); email != nil {
		notifiers = append(notifiers, email)
	}
	return NewDispatcher(logger, notifiers...)
}

// SetTimeout changes the per-attempt bound. Non-positive values are ignored.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Channels returns the names of the configured notifiers.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Send delivers msg on every channel. It never fails: each delivery error is
// logged as a *NotificationError and dropped. Failed deliveries are not
// retried.
func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	for _, n := range d.notifiers {
		d.deliver(ctx, n, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Notifier panicked", "channel", n.Name(), "panic", r)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := n.Notify(attemptCtx, msg); err != nil {
		nerr := &NotificationError{Channel: n.Name(), Err: err}
		d.logger.Warn("Notification failed", "channel", nerr.Channel, "subject", msg.Subject, "error", nerr.Err)
		return
	}
	d.logger.Debug("Sent notification", "channel", n.Name(), "subject", msg.Subject)
}
