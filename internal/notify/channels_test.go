package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertengine/pkg/models"
)

func TestNewSelectsVariant(t *testing.T) {
	cases := []struct {
		cfg  ChannelConfig
		want string
	}{
		{ChannelConfig{ID: "m", Type: "email", Email: EmailConfig{Host: "smtp", From: "a@x", To: []string{"b@x"}}}, TypeEmail},
		{ChannelConfig{ID: "c", Type: "slack", Chat: ChatConfig{WebhookURL: "http://chat"}}, TypeChat},
		{ChannelConfig{ID: "w", Type: "WEBHOOK", Webhook: WebhookConfig{URL: "http://hook"}}, TypeWebhook},
	}
	for _, tc := range cases {
		ch, err := New(tc.cfg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ch.Type())
		assert.Equal(t, tc.cfg.ID, ch.ID())
	}

	_, err := New(ChannelConfig{ID: "p", Type: "pager"})
	assert.Error(t, err)
	_, err = New(ChannelConfig{Type: "webhook"})
	assert.Error(t, err)
	_, err = New(ChannelConfig{ID: "w", Type: "webhook"})
	assert.Error(t, err)
}

func TestChatPayload(t *testing.T) {
	var msg ChatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewChatChannel("ops-chat", ChatConfig{WebhookURL: srv.URL, Channel: "#ops"})
	require.NoError(t, err)

	err = ch.Send(context.Background(), Notification{Kind: models.KindEscalation, Alert: *testAlert(), Link: "https://x/alerts/a-1", Reason: "unacknowledged for 2h"})
	require.NoError(t, err)

	assert.Equal(t, "#ops", msg.Channel)
	assert.Equal(t, "ESCALATION: High error rate", msg.Text)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, "https://x/alerts/a-1", att.TitleLink)
	assert.Contains(t, att.Text, "unacknowledged for 2h")

	fields := map[string]string{}
	for _, f := range att.Fields {
		fields[f.Title] = f.Value
	}
	assert.Equal(t, "0.07", fields["Value"])
	assert.Equal(t, "0.05", fields["Threshold"])
	assert.Equal(t, "high", fields["Severity"])
}

func TestWebhookNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		io.Copy(io.Discard, r.Body)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel("hook", WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}})
	require.NoError(t, err)
	err = ch.Send(context.Background(), Notification{Kind: models.KindAlert, Alert: *testAlert()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestEmailMessage(t *testing.T) {
	ch, err := NewEmailChannel("ops-mail", EmailConfig{Host: "smtp.example.com", Username: "u", Password: "p", From: "alerts@example.com", To: []string{"ops@example.com", "sre@example.com"}})
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err = ch.Send(context.Background(), Notification{Kind: models.KindAlert, Alert: *testAlert(), Link: "https://x/alerts/a-1"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ops@example.com", "sre@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [HIGH] Alert: High error rate\r\n")
	for _, want := range []string{"Value: 0.07", "Threshold: 0.05", "Severity: high", "Description: error_rate above 0.05", "Link: https://x/alerts/a-1", "Alert ID: a-1"} {
		assert.True(t, strings.Contains(gotMsg, want), "missing %q", want)
	}
}

func TestEmailSendFailureAndResolutionSubject(t *testing.T) {
	ch, err := NewEmailChannel("ops-mail", EmailConfig{Host: "smtp.example.com", Port: 25, From: "a@x", To: []string{"b@x"}})
	require.NoError(t, err)
	var subject string
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Nil(t, a)
		subject = strings.SplitN(strings.SplitN(string(msg), "Subject: ", 2)[1], "\r\n", 2)[0]
		return errors.New("550 mailbox unavailable")
	}
	err = ch.Send(context.Background(), Notification{Kind: models.KindResolution, Alert: *testAlert()})
	require.Error(t, err)
	assert.Equal(t, "[RESOLVED] High error rate", subject)
}

func TestEmailHeadersStayOnOneLine(t *testing.T) {
	ch, err := NewEmailChannel("ops-mail", EmailConfig{Host: "smtp.example.com", From: "alerts@example.com", To: []string{"ops@example.com"}})
	require.NoError(t, err)
	var gotMsg string
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotMsg = string(msg)
		return nil
	}

	a := testAlert()
	a.Title = "Disk full\r\nBcc: everyone@example.com\nX-Extra: 1"
	require.NoError(t, ch.Send(context.Background(), Notification{Kind: models.KindAlert, Alert: *a}))

	headers, _, ok := strings.Cut(gotMsg, "\r\n\r\n")
	require.True(t, ok)
	lines := strings.Split(headers, "\r\n")
	assert.Len(t, lines, 5, "From, To, Subject, MIME-Version, Content-Type")
	for _, l := range lines {
		assert.NotContains(t, l, "\n")
		assert.False(t, strings.HasPrefix(l, "Bcc:"))
		assert.False(t, strings.HasPrefix(l, "X-Extra:"))
	}
	assert.Contains(t, headers, "Subject: [HIGH] Alert: Disk full Bcc: everyone@example.com X-Extra: 1")
}
