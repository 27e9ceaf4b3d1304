package indicators

// RSI computes a Relative Strength Index over the last period changes
// (simple averaging, no Wilder smoothing).
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// ROC returns the rate of change over period bars as a fraction.
func ROC(values []float64, period int) float64 {
	n := len(values)
	if period <= 0 || n < period+1 {
		return 0
	}
	base := values[n-period-1]
	if base == 0 {
		return 0
	}
	return (values[n-1] - base) / base
}
