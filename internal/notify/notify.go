// Package notify formats and delivers alert notifications over email,
// chat webhooks and generic webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertengine/pkg/models"
)

// Channel types.
const (
	TypeEmail   = "email"
	TypeChat    = "chat"
	TypeWebhook = "webhook"
)

// ErrDeliveryFailed is wrapped by every DeliveryError.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// DeliveryError is a failed send on one channel.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDeliveryFailed, e.Err}
}

// Notification is what a channel transmits: one alert snapshot and why it is being sent.
type Notification struct {
	Kind  string
	Alert models.Alert
	Link  string
	// Reason is free text for escalations and resolutions.
	Reason string
	SentAt time.Time
}

// Channel transmits notifications. Each call makes exactly one attempt.
type Channel interface {
	ID() string
	Type() string
	Send(ctx context.Context, n Notification) error
}

// ChannelConfig selects and configures one channel variant.
type ChannelConfig struct {
	ID      string
	Type    string
	Email   EmailConfig
	Chat    ChatConfig
	Webhook WebhookConfig
}

// New builds the channel variant named by cfg.Type.
func New(cfg ChannelConfig) (Channel, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("channel id is empty")
	}
	switch strings.ToLower(cfg.Type) {
	case TypeEmail:
		return NewEmailChannel(cfg.ID, cfg.Email)
	case TypeChat, "slack":
		return NewChatChannel(cfg.ID, cfg.Chat)
	case TypeWebhook, "http":
		return NewWebhookChannel(cfg.ID, cfg.Webhook)
	default:
		return nil, fmt.Errorf("channel %s: unknown type %q", cfg.ID, cfg.Type)
	}
}

// AlertLink returns the deep link for an alert under base, or the bare id without a base.
func AlertLink(base, alertID string) string {
	if base == "" {
		return alertID
	}
	return strings.TrimRight(base, "/") + "/alerts/" + alertID
}

func headline(n Notification) string {
	switch n.Kind {
	case models.KindEscalation:
		return "ESCALATION: " + n.Alert.Title
	case models.KindResolution:
		return "RESOLVED: " + n.Alert.Title
	default:
		return n.Alert.Title
	}
}

func formatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
