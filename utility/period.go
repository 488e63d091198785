package utility

import (
	"fmt"
	"math"
	"time"
)

// FormatDuration renders a duration as hours and minutes, e.g. 1h05m
func FormatDuration(d time.Duration) string {
	minutes := int(math.Abs(d.Round(time.Minute).Minutes()))
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}
