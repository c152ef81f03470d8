package pipeline

import (
	"context"
	"sync"
	"time"

	"alertengine/internal/logger"
	"alertengine/internal/telemetry"
	"alertengine/pkg/models"
)

// JournalConfig controls batching.
type JournalConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// MaxAttempts bounds writes of one batch to one output.
	MaxAttempts  int
	RetryBackoff time.Duration
}

type namedWriter struct {
	name   string
	writer EventWriter
}

// Journal buffers lifecycle events and writes them in batches to every
// output. Publish never blocks; events are dropped when the queue is full.
type Journal struct {
	cfg     JournalConfig
	in      chan models.AlertEvent
	writers []namedWriter
	metrics *telemetry.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// NewJournal creates a journal. Outputs are added with AddWriter before Run.
func NewJournal(cfg JournalConfig, metrics *telemetry.Metrics) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Journal{
		cfg:     cfg,
		in:      make(chan models.AlertEvent, cfg.QueueSize),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// AddWriter registers an output under name.
func (j *Journal) AddWriter(name string, w EventWriter) {
	j.writers = append(j.writers, namedWriter{name: name, writer: w})
}

// Publish enqueues an event.
func (j *Journal) Publish(ev models.AlertEvent) {
	select {
	case j.in <- ev:
	default:
		j.metrics.JournalDropped()
		logger.Warnf("Journal queue full, dropping %s event for alert %s", ev.Type, ev.AlertID)
	}
}

// Run batches events until ctx is done, then drains the queue and flushes
// once more.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	logger.Infof("Alert journal started with %d outputs", len(j.writers))

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []models.AlertEvent
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, nw := range j.writers {
			j.write(ctx, nw, batch)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-j.in:
					batch = append(batch, ev)
				default:
					flush(context.Background())
					return
				}
			}
		case <-ticker.C:
			flush(ctx)
		case ev := <-j.in:
			batch = append(batch, ev)
			if len(batch) >= j.cfg.BatchSize {
				flush(ctx)
			}
		}
	}
}

// Wait blocks until Run has returned.
func (j *Journal) Wait() {
	<-j.done
}

// Close releases every output.
func (j *Journal) Close() error {
	var firstErr error
	j.closeOnce.Do(func() {
		for _, nw := range j.writers {
			if err := nw.writer.Close(); err != nil {
				logger.Errorf("Failed to close journal output %s: %v", nw.name, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}

func (j *Journal) write(ctx context.Context, nw namedWriter, batch []models.AlertEvent) {
	for attempt := 1; ; attempt++ {
		err := nw.writer.WriteEvents(batch)
		if err == nil {
			return
		}
		logger.Errorf("Failed to write %d events to %s (attempt %d/%d): %v", len(batch), nw.name, attempt, j.cfg.MaxAttempts, err)
		if attempt >= j.cfg.MaxAttempts {
			j.metrics.JournalWriteError(nw.name)
			return
		}
		select {
		case <-ctx.Done():
			j.metrics.JournalWriteError(nw.name)
			return
		case <-time.After(j.cfg.RetryBackoff):
		}
	}
}
