package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"alertengine/internal/logger"
	"alertengine/internal/telemetry"
	"alertengine/pkg/models"
)

// Popper yields raw queue messages. A nil payload with a nil error means
// nothing arrived before the pop timed out.
type Popper interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// Recorder stores samples for a metric.
type Recorder interface {
	Record(ctx context.Context, metric string, samples []models.MetricSample) error
}

// IngestConfig tunes the ingest pipeline.
type IngestConfig struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// Ingest consumes metric points from a queue and records them in batches,
// grouped by metric.
type Ingest struct {
	consumer Popper
	recorder Recorder
	metrics  *telemetry.Metrics
	cfg      IngestConfig
	now      func() time.Time
}

// NewIngest creates an ingest pipeline.
func NewIngest(consumer Popper, recorder Recorder, cfg IngestConfig, metrics *telemetry.Metrics) *Ingest {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Ingest{
		consumer: consumer,
		recorder: recorder,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run starts the pipeline loop and returns when ctx is done and the last
// batch is flushed.
func (p *Ingest) Run(ctx context.Context) error {
	logger.Infof("Metric ingest started with %d workers", p.cfg.Workers)

	msgCh := make(chan []byte, p.cfg.Workers*4)
	pointCh := make(chan models.MetricPoint, p.cfg.Workers*4)

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(msgCh, pointCh)
		}()
	}
	go func() {
		workers.Wait()
		close(pointCh)
	}()

	p.writeLoop(ctx, pointCh)
	readers.Wait()
	return ctx.Err()
}

// Close releases the consumer.
func (p *Ingest) Close() error {
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *Ingest) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop ingest message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Ingest) workerLoop(in <-chan []byte, out chan<- models.MetricPoint) {
	for payload := range in {
		point, err := ParseMetricPoint(payload, p.now)
		if err != nil {
			p.metrics.Ingested("invalid", 1)
			logger.Warnf("Failed to parse metric point: %v", err)
			continue
		}
		out <- point
	}
}

func (p *Ingest) writeLoop(ctx context.Context, in <-chan models.MetricPoint) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make(map[string][]models.MetricSample)
	pending := 0

	flush := func() {
		for metric, samples := range batch {
			// Writes use a detached context so the final flush still lands.
			if err := p.recorder.Record(context.WithoutCancel(ctx), metric, samples); err != nil {
				p.metrics.Ingested("failed", len(samples))
				logger.Errorf("Failed to record %d samples for %s: %v", len(samples), metric, err)
				continue
			}
			p.metrics.Ingested("recorded", len(samples))
		}
		clear(batch)
		pending = 0
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case point, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch[point.Metric] = append(batch[point.Metric], point.MetricSample)
			pending++
			if pending >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

// ParseMetricPoint decodes one queue message. A missing timestamp is set to now.
func ParseMetricPoint(payload []byte, now func() time.Time) (models.MetricPoint, error) {
	var point models.MetricPoint
	if err := json.Unmarshal(payload, &point); err != nil {
		return models.MetricPoint{}, fmt.Errorf("decode metric point: %w", err)
	}
	point.Metric = strings.TrimSpace(point.Metric)
	if point.Metric == "" {
		return models.MetricPoint{}, fmt.Errorf("metric point without metric name")
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = now()
	}
	return point, nil
}
