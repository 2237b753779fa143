package appkit

import "time"

// IsOutsideThresholdPeriod reports whether the given timestamp falls outside
// the window described by a duration string like "24h" or "30m".
func IsOutsideThresholdPeriod(t time.Time, window string) (bool, error) {
	d, err := time.ParseDuration(window)
	if err != nil {
		return false, err
	}
	return time.Since(t) > d, nil
}
