package repository

// Timeframe is a prediction horizon label.
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF24h Timeframe = "24h"
	TF1d  Timeframe = "1d"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF5m, TF15m, TF1h, TF4h, TF24h, TF1d:
		return true
	default:
		return false
	}
}

// SameHorizon reports whether two labels describe the same horizon.
func SameHorizon(a, b Timeframe) bool {
	if a == b {
		return true
	}
	day := func(t Timeframe) bool { return t == TF24h || t == TF1d }
	return day(a) && day(b)
}

// ChartDays maps a timeframe to the chart lookback in days. Unknown labels
// fall back to a week.
func ChartDays(tf Timeframe) int {
	switch tf {
	case TF5m, TF15m:
		return 1
	case TF1h:
		return 7
	case TF4h:
		return 30
	case TF24h, TF1d:
		return 365
	default:
		return 7
	}
}
