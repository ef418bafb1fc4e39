package logging

import "fmt"

// DefaultMaxLen bounds provider error text copied into log lines.
const DefaultMaxLen = 512

// Truncate shortens s to maxLen bytes, noting the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateError renders err for a log line, bounded by DefaultMaxLen.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), DefaultMaxLen)
}
