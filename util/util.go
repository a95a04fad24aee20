// Package util contains misc internal utilities.
package util

import (
	"strings"
	"time"
)

// AllElementsNumbers returns true if every rune of s is an ASCII digit or a
// decimal point, as in a bare number of seconds
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "0123456789.") == ""
}

// Clamp limits input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}
