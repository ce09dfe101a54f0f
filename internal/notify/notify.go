package notify

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/aerobench/sweep-orchestrator/internal/config"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Point   string // Optional operating-point reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromConfig assembles the configured notifiers. With nothing enabled the
// result is a no-op.
func FromConfig(cfg config.NotificationsConfig) Notifier {
	var notifiers []Notifier
	if cfg.Desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}

// SweepFinished builds the end-of-sweep notification.
func SweepFinished(configPath string, succeeded, failed, skipped int, elapsed time.Duration) Notification {
	n := Notification{
		Title: "Sweep finished",
		Type:  NotifySuccess,
		Message: fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped in %s",
			filepath.Base(configPath), succeeded, failed, skipped, elapsed.Round(time.Second)),
	}
	if failed > 0 {
		n.Title = "Sweep finished with failures"
		n.Type = NotifyWarning
	}
	return n
}

// PointFailed builds the per-point failure notification.
func PointFailed(pointID, diagnostics string) Notification {
	msg := pointID
	if diagnostics != "" {
		msg += "\ndiagnostics: " + diagnostics
	}
	return Notification{
		Title:   "Point failed",
		Message: msg,
		Type:    NotifyError,
		Point:   pointID,
	}
}
