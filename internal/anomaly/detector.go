// Package anomaly flags outliers in metric series with z-score, IQR and
// seasonal-residual tests.
package anomaly

import (
	"fmt"
	"math"

	"alertengine/pkg/models"
)

// Detection methods.
const (
	MethodZScore   = "zscore"
	MethodIQR      = "iqr"
	MethodSeasonal = "seasonal"
)

const (
	defaultSensitivity = 0.5
	defaultPeriod      = 24
	minSamples         = 3
)

// Config controls detector behavior.
type Config struct {
	// Sensitivity in (0,1); higher flags more samples.
	Sensitivity float64
	Method      string
	// SeasonalPeriod is the number of samples per cycle for the seasonal method.
	SeasonalPeriod int
}

// Detector is stateless apart from its configuration and safe for concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, falling back to defaults for out-of-range settings.
func NewDetector(cfg Config) *Detector {
	if cfg.Sensitivity <= 0 || cfg.Sensitivity >= 1 || math.IsNaN(cfg.Sensitivity) {
		cfg.Sensitivity = defaultSensitivity
	}
	if cfg.Method == "" {
		cfg.Method = MethodZScore
	}
	if cfg.SeasonalPeriod < 2 {
		cfg.SeasonalPeriod = defaultPeriod
	}
	return &Detector{cfg: cfg}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// ZCutoff is the |z| above which a sample is anomalous: 2.0 at the default sensitivity.
func (d *Detector) ZCutoff() float64 {
	return 3.0 - 2.0*d.cfg.Sensitivity
}

// IQRMultiplier is k in [Q1-k*IQR, Q3+k*IQR]: 1.5 at the default sensitivity.
func (d *Detector) IQRMultiplier() float64 {
	return 3.0 * (1 - d.cfg.Sensitivity)
}

// Detect runs the configured method.
func (d *Detector) Detect(samples []models.MetricSample) []models.AnomalyResult {
	out, _ := d.DetectWith(d.cfg.Method, samples)
	return out
}

// DetectWith runs a specific method. Short inputs yield no results.
func (d *Detector) DetectWith(method string, samples []models.MetricSample) ([]models.AnomalyResult, error) {
	switch method {
	case MethodZScore:
		return d.zscore(samples), nil
	case MethodIQR:
		return d.iqr(samples), nil
	case MethodSeasonal:
		return d.seasonal(samples), nil
	default:
		return nil, fmt.Errorf("unknown anomaly method %q", method)
	}
}

// ZScores returns (v-mean)/std for each value using the population deviation.
// A constant series yields all zeros.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	mu := mean(values)
	sd := populationStdDev(values, mu)
	if sd == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mu) / sd
	}
	return out
}

// IQRBounds returns [Q1-k*IQR, Q3+k*IQR].
func IQRBounds(values []float64, k float64) (float64, float64) {
	sorted := sortedCopy(values)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

func (d *Detector) zscore(samples []models.MetricSample) []models.AnomalyResult {
	if len(samples) < minSamples {
		return nil
	}
	values := models.SampleValues(samples)
	mu := mean(values)
	sd := populationStdDev(values, mu)
	if sd == 0 {
		return nil
	}
	cutoff := d.ZCutoff()
	low, high := mu-cutoff*sd, mu+cutoff*sd

	var out []models.AnomalyResult
	for i, s := range samples {
		z := (values[i] - mu) / sd
		if math.Abs(z) <= cutoff {
			continue
		}
		out = append(out, newResult(MethodZScore, s, low, high))
	}
	return out
}

func (d *Detector) iqr(samples []models.MetricSample) []models.AnomalyResult {
	if len(samples) < minSamples {
		return nil
	}
	low, high := IQRBounds(models.SampleValues(samples), d.IQRMultiplier())

	var out []models.AnomalyResult
	for _, s := range samples {
		if s.Value >= low && s.Value <= high {
			continue
		}
		out = append(out, newResult(MethodIQR, s, low, high))
	}
	return out
}

func (d *Detector) seasonal(samples []models.MetricSample) []models.AnomalyResult {
	dec, err := Decompose(models.SampleValues(samples), d.cfg.SeasonalPeriod)
	if err != nil {
		return nil
	}
	mu := mean(dec.Residual)
	sd := populationStdDev(dec.Residual, mu)
	if sd == 0 {
		return nil
	}
	cutoff := d.ZCutoff()

	var out []models.AnomalyResult
	for i, s := range samples {
		if math.Abs((dec.Residual[i]-mu)/sd) <= cutoff {
			continue
		}
		expected := dec.Trend[i] + dec.Seasonal[i] + mu
		out = append(out, newResult(MethodSeasonal, s, expected-cutoff*sd, expected+cutoff*sd))
	}
	return out
}

func newResult(method string, s models.MetricSample, low, high float64) models.AnomalyResult {
	score := Score(s.Value, low, high)
	return models.AnomalyResult{
		Method:       method,
		Timestamp:    s.Timestamp,
		Value:        s.Value,
		ExpectedLow:  low,
		ExpectedHigh: high,
		AnomalyScore: score,
		Severity:     SeverityForScore(score),
	}
}

// Score is the distance of value outside [low, high] relative to the range's
// half-width, clamped to [0,1]. A degenerate range scores any excursion as 1.
func Score(value, low, high float64) float64 {
	var dist float64
	switch {
	case value < low:
		dist = low - value
	case value > high:
		dist = value - high
	default:
		return 0
	}
	half := (high - low) / 2
	if half <= 0 {
		return 1
	}
	return math.Min(1, dist/half)
}

// SeverityForScore maps an anomaly score to a severity band.
func SeverityForScore(score float64) models.Severity {
	switch {
	case score >= 0.9:
		return models.SeverityHigh
	case score >= 0.6:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
