package anomaly

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a series is too short to decompose.
var ErrInsufficientData = errors.New("insufficient data for decomposition")

// Decomposition splits a series into additive components of the input length.
type Decomposition struct {
	Period   int       `json:"period"`
	Trend    []float64 `json:"trend"`
	Seasonal []float64 `json:"seasonal"`
	Residual []float64 `json:"residual"`
}

// Decompose separates values into trend (moving average over one period),
// seasonal (mean detrended value per phase, centred on zero) and residual.
// At least two full periods are required.
func Decompose(values []float64, period int) (*Decomposition, error) {
	n := len(values)
	if period < 2 {
		return nil, fmt.Errorf("period must be at least 2, got %d", period)
	}
	if n < 2*period {
		return nil, fmt.Errorf("%w: %d samples for period %d", ErrInsufficientData, n, period)
	}

	trend := movingAverage(values, period)

	phaseSum := make([]float64, period)
	phaseCount := make([]int, period)
	for i, v := range values {
		phaseSum[i%period] += v - trend[i]
		phaseCount[i%period]++
	}
	phaseMean := make([]float64, period)
	for k := range phaseMean {
		phaseMean[k] = phaseSum[k] / float64(phaseCount[k])
	}
	offset := mean(phaseMean)

	seasonal := make([]float64, n)
	residual := make([]float64, n)
	for i, v := range values {
		seasonal[i] = phaseMean[i%period] - offset
		residual[i] = v - trend[i] - seasonal[i]
	}

	return &Decomposition{Period: period, Trend: trend, Seasonal: seasonal, Residual: residual}, nil
}

// movingAverage centres a window of width samples on each index and
// shrinks it at the series edges.
func movingAverage(values []float64, width int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := range values {
		lo := i - width/2
		hi := lo + width - 1
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}
