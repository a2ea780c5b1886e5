package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults filled in by the accessors when a field is empty.
const (
	DefaultTick             = 10 * time.Millisecond
	DefaultDebugAddr        = "127.0.0.1:6061"
	DefaultDebugReadTimeout = 10 * time.Second
	DefaultDebugIdleTimeout = 60 * time.Second
)

// TickPeriod returns the dispatch tick. Empty, zero or malformed values
// yield DefaultTick; Validate reports the malformed ones.
func (c *Config) TickPeriod() time.Duration {
	d, err := c.tickPeriod()
	if err != nil {
		return DefaultTick
	}
	return d
}

func (c *Config) tickPeriod() (time.Duration, error) {
	d, err := durationField("tick", c.Tick, DefaultTick)
	if err != nil || d > 0 {
		return d, err
	}
	return DefaultTick, nil
}

// Address returns the listen address, DefaultDebugAddr when unset.
func (d DebugConfig) Address() string {
	if a := strings.TrimSpace(d.Addr); a != "" {
		return a
	}
	return DefaultDebugAddr
}

// Timeouts returns the HTTP read and idle timeouts with defaults applied.
func (d DebugConfig) Timeouts() (read, idle time.Duration, err error) {
	if read, err = durationField("debug.read_timeout", d.ReadTimeout, DefaultDebugReadTimeout); err != nil {
		return 0, 0, err
	}
	if idle, err = durationField("debug.idle_timeout", d.IdleTimeout, DefaultDebugIdleTimeout); err != nil {
		return 0, 0, err
	}
	return read, idle, nil
}

// BusyTimeoutDuration returns the sqlite busy timeout; 0 lets the journal
// pick its own default.
func (j JournalConfig) BusyTimeoutDuration() (time.Duration, error) {
	return durationField("journal.busy_timeout", j.BusyTimeout, 0)
}

// durationField parses a non-negative Go duration. Empty yields def, and
// so does an explicit zero.
func durationField(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", path, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}
