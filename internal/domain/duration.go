package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders whole hours and minutes, e.g. "1 hour 30 minutes".
func FormatDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	hours := minutes / 60
	rest := minutes % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hour%s", hours, plural(hours)))
	}
	if rest > 0 {
		parts = append(parts, fmt.Sprintf("%d minute%s", rest, plural(rest)))
	}
	return strings.Join(parts, " ")
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
