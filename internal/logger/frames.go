package logger

import (
	"log/slog"
	"unicode/utf8"
)

// Frame directions for relay diagnostics.
const (
	DirOutbound = "outbound"
	DirInbound  = "inbound"
)

const framePreviewLen = 200

// Frame records one relay protocol frame at debug level. The record carries
// the direction, the target instance, and a truncated payload preview. This
// logging is advisory only; callers never depend on it.
func Frame(direction, instanceID, instanceName, payload string) {
	slog.Debug("relay frame",
		"dir", direction,
		"instance_id", instanceID,
		"instance_name", instanceName,
		"frame", Preview(payload, framePreviewLen),
	)
}

// Preview truncates s to at most max runes, with a trailing "..." marking
// the cut. The result never exceeds max.
func Preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
