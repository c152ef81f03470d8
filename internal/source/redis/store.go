package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"alertengine/internal/source"
	"alertengine/pkg/models"
)

// Config configures Redis access for metric reads and writes.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Retention bounds how long series samples are kept on write. Zero keeps everything.
	Retention time.Duration
}

// Store reads and writes metrics laid out as:
//
//	<prefix>:current:<metric>  string holding the latest value
//	<prefix>:series:<metric>   sorted set scored by unix millis, members are JSON samples
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

type storedSample struct {
	TS         int64             `json:"ts"`
	Value      float64           `json:"v"`
	Dimensions map[string]string `json:"d,omitempty"`
}

// NewStore constructs a Redis-backed metric store and verifies connectivity.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis metric store: %w", err)
	}

	return NewStoreWithClient(client, cfg), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client redis.UniversalClient, cfg Config) *Store {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "alertengine:metrics"
	}
	return &Store{client: client, prefix: prefix, retention: cfg.Retention}
}

// CurrentValue returns the latest value of metric.
func (s *Store) CurrentValue(ctx context.Context, metric string) (float64, error) {
	raw, err := s.client.Get(ctx, s.currentKey(metric)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s has no current value", source.ErrMetricUnavailable, metric)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", source.ErrMetricUnavailable, metric, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s holds non-numeric value %q", source.ErrMetricUnavailable, metric, raw)
	}
	return v, nil
}

// Series returns samples with start <= ts <= end in timestamp order.
func (s *Store) Series(ctx context.Context, metric string, start, end time.Time) ([]models.MetricSample, error) {
	members, err := s.client.ZRangeByScore(ctx, s.seriesKey(metric), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read series %s: %v", source.ErrMetricUnavailable, metric, err)
	}

	out := make([]models.MetricSample, 0, len(members))
	for _, m := range members {
		sample, ok := decodeSample(m)
		if !ok {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

// Record appends samples to the metric series and updates its current value.
func (s *Store) Record(ctx context.Context, metric string, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()

	latest := samples[0]
	members := make([]redis.Z, 0, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}
		if !sample.Timestamp.Before(latest.Timestamp) {
			latest = sample
		}
		member, err := encodeSample(sample)
		if err != nil {
			return fmt.Errorf("encode sample for %s: %w", metric, err)
		}
		members = append(members, redis.Z{Score: float64(sample.Timestamp.UnixMilli()), Member: member})
	}

	pipe.ZAdd(ctx, s.seriesKey(metric), members...)
	pipe.Set(ctx, s.currentKey(metric), strconv.FormatFloat(latest.Value, 'f', -1, 64), 0)
	if s.retention > 0 {
		cutoff := latest.Timestamp.Add(-s.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, s.seriesKey(metric), "-inf", "("+strconv.FormatInt(cutoff, 10))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write metric %s: %w", metric, err)
	}
	return nil
}

// Close closes Redis resources.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) currentKey(metric string) string {
	return s.prefix + ":current:" + metric
}

func (s *Store) seriesKey(metric string) string {
	return s.prefix + ":series:" + metric
}

func encodeSample(sample models.MetricSample) (string, error) {
	b, err := json.Marshal(storedSample{
		TS:         sample.Timestamp.UnixMilli(),
		Value:      sample.Value,
		Dimensions: sample.Dimensions,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSample(member string) (models.MetricSample, bool) {
	var st storedSample
	if err := json.Unmarshal([]byte(member), &st); err != nil || st.TS == 0 {
		return models.MetricSample{}, false
	}
	return models.MetricSample{
		Timestamp:  time.UnixMilli(st.TS).UTC(),
		Value:      st.Value,
		Dimensions: st.Dimensions,
	}, true
}
