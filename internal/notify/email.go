package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"alertengine/pkg/models"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// headerSafe flattens line breaks so values cannot start new headers.
var headerSafe = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends plain-text mail through an SMTP relay.
type EmailChannel struct {
	id       string
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	sendMail sendMailFunc
}

// NewEmailChannel creates an SMTP channel.
func NewEmailChannel(id string, cfg EmailConfig) (*EmailChannel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("email channel %s: smtp host is empty", id)
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email channel %s: from and to are required", id)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailChannel{
		id:       id,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		to:       append([]string(nil), cfg.To...),
		sendMail: smtp.SendMail,
	}, nil
}

func (c *EmailChannel) ID() string   { return c.id }
func (c *EmailChannel) Type() string { return TypeEmail }

// Send delivers one message. net/smtp has no context support, so ctx is only
// checked before dialing.
func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := c.message(n)
	if err := c.sendMail(c.addr, c.auth, c.from, c.to, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (c *EmailChannel) message(n Notification) []byte {
	subject := emailSubject(n)

	var buf strings.Builder
	fmt.Fprintf(&buf, "From: %s\r\n", headerSafe.Replace(c.from))
	fmt.Fprintf(&buf, "To: %s\r\n", headerSafe.Replace(strings.Join(c.to, ", ")))
	fmt.Fprintf(&buf, "Subject: %s\r\n", headerSafe.Replace(subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	buf.WriteString(emailBody(n))
	return []byte(buf.String())
}

func emailSubject(n Notification) string {
	switch n.Kind {
	case models.KindEscalation:
		return fmt.Sprintf("[ESCALATION][%s] Alert: %s", strings.ToUpper(string(n.Alert.Severity)), n.Alert.Title)
	case models.KindResolution:
		return fmt.Sprintf("[RESOLVED] %s", n.Alert.Title)
	default:
		return fmt.Sprintf("[%s] Alert: %s", strings.ToUpper(string(n.Alert.Severity)), n.Alert.Title)
	}
}

func emailBody(n Notification) string {
	a := n.Alert
	var buf strings.Builder
	fmt.Fprintf(&buf, "Alert: %s\r\n", a.Title)
	fmt.Fprintf(&buf, "Severity: %s\r\n", a.Severity)
	fmt.Fprintf(&buf, "Status: %s\r\n", a.Status)
	fmt.Fprintf(&buf, "Metric: %s\r\n", a.MetricName)
	fmt.Fprintf(&buf, "Target: %s\r\n", a.AffectedTarget)
	fmt.Fprintf(&buf, "Description: %s\r\n", a.Description)
	fmt.Fprintf(&buf, "Value: %s\r\n", formatValue(a.MetricValue))
	fmt.Fprintf(&buf, "Threshold: %s\r\n", formatValue(a.ThresholdValue))
	fmt.Fprintf(&buf, "Triggered At: %s\r\n", a.TriggeredAt.Format(time.RFC3339))
	if n.Reason != "" {
		fmt.Fprintf(&buf, "Note: %s\r\n", n.Reason)
	}
	fmt.Fprintf(&buf, "Alert ID: %s\r\n", a.ID)
	fmt.Fprintf(&buf, "Link: %s\r\n", n.Link)
	return buf.String()
}
