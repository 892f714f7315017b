// Package location handles the driver position time series and geo math.
package location

import (
	"time"

	"hail/internal/types"
)

// Sample is one appended driver position report. The ranker only ever reads
// the most recent sample per driver.
type Sample struct {
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	HeadingDeg *float64    `json:"heading_deg,omitempty"`
	SpeedMps   *float64    `json:"speed_mps,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Fresh reports whether the sample is recent enough to trust for proximity
// ranking. A nil sample (driver never reported) is never fresh.
func (s *Sample) Fresh(now time.Time, window time.Duration) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.RecordedAt) <= window
}
