package confidence

import (
	"fmt"
	"math"
	"time"
)

// DecayFunc maps a pattern's current confidence and idle time to its decayed
// confidence. The exact curve is a tunable, not a fixed formula.
type DecayFunc func(confidence float64, idle time.Duration) float64

// LinearDecay subtracts ratePerDay for every idle day.
func LinearDecay(ratePerDay float64) DecayFunc {
	return func(confidence float64, idle time.Duration) float64 {
		days := idle.Hours() / 24
		return clamp01(confidence - ratePerDay*days)
	}
}

// ExponentialDecay multiplies by (1-ratePerDay) for every idle day.
func ExponentialDecay(ratePerDay float64) DecayFunc {
	return func(confidence float64, idle time.Duration) float64 {
		days := idle.Hours() / 24
		return clamp01(confidence * math.Pow(1-ratePerDay, days))
	}
}

// DecayForMode resolves the configured decay mode name to a DecayFunc.
func DecayForMode(mode string, ratePerDay float64) (DecayFunc, error) {
	switch mode {
	case "linear":
		return LinearDecay(ratePerDay), nil
	case "exponential":
		return ExponentialDecay(ratePerDay), nil
	default:
		return nil, fmt.Errorf("unknown decay mode: %q", mode)
	}
}
