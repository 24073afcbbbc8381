package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Strob0t/ClawDeck/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	l := New(config.Logging{Level: "debug", Service: "test"})
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := Preview("abcdefgh", 6); got != "abc..." {
		t.Errorf("expected truncated string, got %q", got)
	}
	// Multi-byte runes must not be split.
	if got := Preview("héllo wörld", 6); got != "hél..." {
		t.Errorf("expected rune-safe truncation, got %q", got)
	}
	// The marker never pushes the result past the bound.
	for _, max := range []int{2, 4, 8} {
		if got := len([]rune(Preview("abcdefghij", max))); got > max {
			t.Errorf("Preview(max=%d) returned %d runes", max, got)
		}
	}
}
