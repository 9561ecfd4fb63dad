package util

import (
	"fmt"
	"math"
	"net"
	"strconv"
)

func NetJoin(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FormatMbps formats a megabit-per-second value with one decimal.
func FormatMbps(mbps float64) string {
	if mbps < 0 {
		mbps = 0
	}
	return fmt.Sprintf("%.1f Mbps", mbps)
}

// FormatMs formats a millisecond value; whole values print without decimals.
func FormatMs(ms float64) string {
	if ms < 0 {
		ms = 0
	}
	if ms == math.Trunc(ms) {
		return fmt.Sprintf("%.0f ms", ms)
	}
	return fmt.Sprintf("%.1f ms", ms)
}

// FormatBytes formats byte counts with appropriate units
func FormatBytes(bytes float64) string {
	return formatWithUnits(bytes, []string{"B", "KB", "MB", "GB", "TB", "PB"}, 1000)
}

// formatWithUnits is a generic formatter for values with scaling units
func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
	if value >= 10 {
		return fmt.Sprintf("%.1f %s", value, units[idx])
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
