package source

import (
	"context"
	"errors"
	"time"

	"alertengine/pkg/models"
)

// ErrMetricUnavailable reports that a metric source could not supply a value.
var ErrMetricUnavailable = errors.New("metric unavailable")

// Source supplies current values and sample windows for named metrics.
type Source interface {
	CurrentValue(ctx context.Context, metric string) (float64, error)
	Series(ctx context.Context, metric string, start, end time.Time) ([]models.MetricSample, error)
}
