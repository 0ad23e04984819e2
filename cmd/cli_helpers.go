package cmd

import (
	"fmt"
	"os"
	"time"
)

// exitf prints to stderr and exits with status 1.
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// isServerReachable tries a quick health RPC to check if the server is up.
func isServerReachable() bool {
	_, err := gatewayRPC("health", nil)
	// Any response (even an error) means the server is up.
	return err == nil
}

// formatAgo renders a millisecond timestamp relative to now.
func formatAgo(ms int64) string {
	if ms == 0 {
		return "-"
	}
	ago := time.Since(time.UnixMilli(ms)).Truncate(time.Second)
	return ago.String() + " ago"
}

// formatIn renders a time until a deadline.
func formatIn(t time.Time) string {
	d := time.Until(t).Truncate(time.Second)
	if d <= 0 {
		return "expired"
	}
	return "in " + d.String()
}
