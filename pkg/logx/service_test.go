package logx

import (
	"strings"
	"sync"
	"testing"
)

func TestAlertSinkLevelAndRate(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	alert := func(_ Level, line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	svc, log := New(Config{
		Level: "debug",
		Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1},
	}, alert)
	defer svc.Close()

	log.Info("below threshold")
	log.Warn("queue stalled", String("queue", "lpwork"))
	log.Error("dropped by limiter")

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("alerts = %d (%q), want 1", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "[WARN] queue stalled") {
		t.Fatalf("unexpected alert line %q", lines[0])
	}
	if !strings.Contains(lines[0], "queue=lpwork") {
		t.Fatalf("alert line missing field: %q", lines[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
	l.With(String("k", "v")).Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
