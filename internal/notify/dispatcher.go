package notify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alertengine/internal/logger"
	"alertengine/internal/telemetry"
	"alertengine/pkg/models"
)

// Dispatcher fans a notification out to channels by id.
type Dispatcher struct {
	channels map[string]Channel
	linkBase string
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDispatcher indexes channels by id. linkBase prefixes alert deep links.
func NewDispatcher(channels []Channel, linkBase string, metrics *telemetry.Metrics) *Dispatcher {
	byID := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID()] = ch
	}
	return &Dispatcher{
		channels: byID,
		linkBase: linkBase,
		metrics:  metrics,
		tracer:   otel.Tracer("alertengine/notify"),
		now:      time.Now,
	}
}

// Has reports whether a channel id is configured.
func (d *Dispatcher) Has(id string) bool {
	_, ok := d.channels[id]
	return ok
}

// Dispatch sends n on every listed channel in order, one attempt each. A
// failure on one channel never stops the rest; it comes back as a failed
// record.
func (d *Dispatcher) Dispatch(ctx context.Context, channelIDs []string, kind string, alert *models.Alert, reason string) []models.DeliveryRecord {
	ctx, span := d.tracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", alert.ID),
		attribute.String("notification.kind", kind),
		attribute.Int("channels", len(channelIDs)),
	)

	n := Notification{
		Kind:   kind,
		Alert:  *alert.Clone(),
		Link:   AlertLink(d.linkBase, alert.ID),
		Reason: reason,
		SentAt: d.now().UTC(),
	}

	records := make([]models.DeliveryRecord, 0, len(channelIDs))
	failures := 0
	for _, id := range channelIDs {
		rec := models.DeliveryRecord{AlertID: alert.ID, Channel: id, Kind: kind, AttemptedAt: d.now().UTC()}
		if err := d.send(ctx, id, n); err != nil {
			failures++
			rec.Error = err.Error()
			logger.Warnf("Notification %s for alert %s failed: %v", kind, alert.ID, err)
		} else {
			rec.Success = true
			logger.Debugf("Notification %s for alert %s delivered via %s", kind, alert.ID, id)
		}
		d.metrics.Delivery(id, kind, rec.Success)
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("failures", failures))
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d deliveries failed", failures, len(channelIDs)))
	}
	return records
}

func (d *Dispatcher) send(ctx context.Context, id string, n Notification) (err error) {
	ch, ok := d.channels[id]
	if !ok {
		return &DeliveryError{Channel: id, Err: fmt.Errorf("channel not configured")}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{Channel: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := ch.Send(ctx, n); err != nil {
		return &DeliveryError{Channel: id, Err: err}
	}
	return nil
}
