package alertclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alertengine/pkg/models"
)

const tsLayout = "2006-01-02 15:04:05.000"

// Config configures the ClickHouse HTTP writer. Database defaults to
// "default" and Table to "alert_events".
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
}

// Writer inserts alert lifecycle events into one ClickHouse table through
// the HTTP interface, one JSONEachRow insert per batch.
type Writer struct {
	insertURL string
	username  string
	password  string
	client    *http.Client
}

// row is the alert_events column layout.
type row struct {
	Timestamp      string  `json:"ts"`
	Type           string  `json:"type"`
	AlertID        string  `json:"alert_id"`
	RuleID         string  `json:"rule_id"`
	MetricName     string  `json:"metric_name"`
	AffectedTarget string  `json:"affected_target"`
	Severity       string  `json:"severity"`
	Status         string  `json:"status"`
	MetricValue    float64 `json:"metric_value"`
	ThresholdValue float64 `json:"threshold_value"`
	Channel        string  `json:"channel"`
	Kind           string  `json:"kind"`
	Success        uint8   `json:"success"`
	Detail         string  `json:"detail"`
}

// NewWriter validates cfg and prepares the insert endpoint.
func NewWriter(cfg Config) (*Writer, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("clickhouse URL %q is not an absolute http URL", cfg.URL)
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "alert_events"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	params := url.Values{}
	params.Set("query", fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table)))
	// Columns added to the table later must not break older engine builds.
	params.Set("input_format_skip_unknown_fields", "1")
	base.Path = "/"
	base.RawQuery = params.Encode()

	return &Writer{
		insertURL: base.String(),
		username:  cfg.Username,
		password:  cfg.Password,
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// WriteEvents inserts the batch.
func (w *Writer) WriteEvents(events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		if err := enc.Encode(toRow(ev)); err != nil {
			return fmt.Errorf("encode %s event for alert %s: %w", ev.Type, ev.AlertID, err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.insertURL, &body)
	if err != nil {
		return fmt.Errorf("build clickhouse insert: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("insert %d alert events: %w", len(events), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if code := resp.Header.Get("X-ClickHouse-Exception-Code"); code != "" {
			return fmt.Errorf("insert %d alert events: clickhouse exception %s: %s", len(events), code, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("insert %d alert events: %s: %s", len(events), resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close drops idle connections to the server.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func toRow(ev models.AlertEvent) row {
	r := row{
		Timestamp:      ev.Timestamp.UTC().Format(tsLayout),
		Type:           ev.Type,
		AlertID:        ev.AlertID,
		RuleID:         ev.RuleID,
		MetricName:     ev.MetricName,
		AffectedTarget: ev.AffectedTarget,
		Severity:       string(ev.Severity),
		Status:         string(ev.Status),
		MetricValue:    ev.MetricValue,
		ThresholdValue: ev.ThresholdValue,
		Channel:        ev.Channel,
		Kind:           ev.Kind,
		Detail:         ev.Detail,
	}
	if ev.Success {
		r.Success = 1
	}
	return r
}

func quoteIdent(v string) string {
	return "`" + strings.ReplaceAll(v, "`", "") + "`"
}
