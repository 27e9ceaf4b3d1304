package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA calculates an exponential moving average seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	k := 2.0 / float64(period+1)
	ema := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// Highest returns the maximum of the last period values.
func Highest(values []float64, period int) float64 {
	if period <= 0 || len(values) == 0 {
		return 0
	}
	start := len(values) - period
	if start < 0 {
		start = 0
	}
	high := values[start]
	for _, v := range values[start+1:] {
		if v > high {
			high = v
		}
	}
	return high
}
