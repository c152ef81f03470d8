package notify

import (
	"context"
	"fmt"
	"time"

	"alertengine/pkg/models"
)

// ChatConfig configures a Slack-compatible incoming webhook.
type ChatConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Timeout    time.Duration
}

// ChatMessage is the incoming-webhook payload.
type ChatMessage struct {
	Channel     string           `json:"channel,omitempty"`
	Username    string           `json:"username,omitempty"`
	IconEmoji   string           `json:"icon_emoji,omitempty"`
	Text        string           `json:"text"`
	Attachments []ChatAttachment `json:"attachments,omitempty"`
}

// ChatAttachment is one coloured block of fields.
type ChatAttachment struct {
	Color     string      `json:"color"`
	Title     string      `json:"title"`
	TitleLink string      `json:"title_link,omitempty"`
	Text      string      `json:"text"`
	Fields    []ChatField `json:"fields"`
	Footer    string      `json:"footer,omitempty"`
	Timestamp int64       `json:"ts"`
}

// ChatField is a title/value pair.
type ChatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// ChatChannel posts to a chat webhook.
type ChatChannel struct {
	id     string
	cfg    ChatConfig
	poster *poster
}

// NewChatChannel creates a chat channel.
func NewChatChannel(id string, cfg ChatConfig) (*ChatChannel, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("chat channel %s: webhook URL is empty", id)
	}
	if cfg.Username == "" {
		cfg.Username = "alertengine"
	}
	if cfg.IconEmoji == "" {
		cfg.IconEmoji = ":rotating_light:"
	}
	return &ChatChannel{id: id, cfg: cfg, poster: newPoster(cfg.WebhookURL, cfg.Timeout, nil)}, nil
}

func (c *ChatChannel) ID() string   { return c.id }
func (c *ChatChannel) Type() string { return TypeChat }

// Send posts one message.
func (c *ChatChannel) Send(ctx context.Context, n Notification) error {
	return c.poster.postJSON(ctx, c.message(n))
}

func (c *ChatChannel) message(n Notification) ChatMessage {
	a := n.Alert
	text := a.Description
	if n.Reason != "" {
		text = n.Reason + "\n" + text
	}
	return ChatMessage{
		Channel:   c.cfg.Channel,
		Username:  c.cfg.Username,
		IconEmoji: c.cfg.IconEmoji,
		Text:      headline(n),
		Attachments: []ChatAttachment{{
			Color:     chatColor(n),
			Title:     a.Title,
			TitleLink: n.Link,
			Text:      text,
			Fields: []ChatField{
				{Title: "Severity", Value: string(a.Severity), Short: true},
				{Title: "Status", Value: string(a.Status), Short: true},
				{Title: "Metric", Value: a.MetricName, Short: true},
				{Title: "Target", Value: a.AffectedTarget, Short: true},
				{Title: "Value", Value: formatValue(a.MetricValue), Short: true},
				{Title: "Threshold", Value: formatValue(a.ThresholdValue), Short: true},
			},
			Footer:    "alert " + a.ID,
			Timestamp: a.TriggeredAt.Unix(),
		}},
	}
}

func chatColor(n Notification) string {
	if n.Kind == models.KindResolution {
		return "good"
	}
	switch n.Alert.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		return "danger"
	case models.SeverityMedium:
		return "warning"
	default:
		return "#439FE0"
	}
}
