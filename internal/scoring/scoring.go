package scoring

import (
	"math"
	"time"
)

// Config holds the point formula constants. Defaults match the classic
// game tuning: 1000 max, 100 floor, 90 points lost per second.
type Config struct {
	MaxPoints         int
	MinPoints         int
	TimePenaltyPerSec float64
}

func DefaultConfig() Config {
	return Config{
		MaxPoints:         1000,
		MinPoints:         100,
		TimePenaltyPerSec: 90,
	}
}

// Points returns the score for one answer. Incorrect answers earn 0.
// Correct answers decay linearly with response latency, clamped at
// MinPoints so even a slow correct answer beats a wrong one.
func Points(c Config, correct bool, latency time.Duration) int {
	if !correct {
		return 0
	}

	earned := int(math.Round(float64(c.MaxPoints) - latency.Seconds()*c.TimePenaltyPerSec))
	if earned < c.MinPoints {
		return c.MinPoints
	}

	return earned
}
