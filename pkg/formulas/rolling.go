package formulas

import (
	talib "github.com/markcheno/go-talib"
)

// RollingMean returns the simple moving average over period. The first
// period-1 slots hold zeros (talib warmup convention).
func RollingMean(data []float64, period int) []float64 {
	if len(data) < period || period < 2 {
		return make([]float64, len(data))
	}
	return talib.Sma(data, period)
}

// RollingStdDev returns the moving standard deviation over period.
func RollingStdDev(data []float64, period int) []float64 {
	if len(data) < period || period < 2 {
		return make([]float64, len(data))
	}
	return talib.StdDev(data, period, 1.0)
}

// RateOfChange returns the percentage change over period bars,
// ((v[i] / v[i-period]) - 1) * 100.
func RateOfChange(data []float64, period int) []float64 {
	if len(data) <= period || period < 1 {
		return make([]float64, len(data))
	}
	return talib.Roc(data, period)
}

// RollingMax returns the highest value over the trailing period.
func RollingMax(data []float64, period int) []float64 {
	if len(data) < period || period < 2 {
		return make([]float64, len(data))
	}
	return talib.Max(data, period)
}

// RollingMin returns the lowest value over the trailing period.
func RollingMin(data []float64, period int) []float64 {
	if len(data) < period || period < 2 {
		return make([]float64, len(data))
	}
	return talib.Min(data, period)
}
