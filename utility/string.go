package utility

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParseFloat parses a numeric value reported by a charge point; empty and non-finite values are errors
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Err("empty numeric value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse %q: not a finite number", s)
	}
	return f, nil
}

// ParseInt parses a whole number, rejecting fractions instead of truncating them
func ParseInt(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return i, nil
}

// WhToString converts watt-hours to a kWh string like 1234 to 1.2
func WhToString(i int64) string {
	if i < 100 {
		return "0.0"
	}
	firstPart := i / 1000
	secondPart := (i % 1000) / 100
	return strconv.FormatInt(firstPart, 10) + "." + strconv.FormatInt(secondPart, 10)
}

func NewUUID() string {
	return uuid.New().String()
}
