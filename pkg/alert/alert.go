// Package alert posts administrative actions to an action log on chat webhooks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Notification is one entry of the action log.
type Notification struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotification stamps an action log entry with the current time.
func NewNotification(action, actor, title, body string) *Notification {
	return &Notification{
		Action:    action,
		Actor:     actor,
		Title:     title,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to every notifier. A failing destination
// does not stop the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
