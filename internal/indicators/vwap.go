package indicators

// VWAP accumulates a session volume-weighted average price.
type VWAP struct {
	cumPV  float64
	cumVol float64
}

// Add folds one trade/bar into the accumulator.
func (v *VWAP) Add(price, volume float64) {
	v.cumPV += price * volume
	v.cumVol += volume
}

// Value returns the current VWAP; ok is false until any volume has been seen.
func (v *VWAP) Value() (float64, bool) {
	if v.cumVol <= 0 {
		return 0, false
	}
	return v.cumPV / v.cumVol, true
}

// Reset clears the accumulator for a new session.
func (v *VWAP) Reset() {
	v.cumPV = 0
	v.cumVol = 0
}
