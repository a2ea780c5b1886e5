package config

// Config is the kworkd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "10ms", "5s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Tick is the scheduling quantum. Default "10ms".
	Tick string `json:"tick,omitempty"`

	Queues QueuesConfig `json:"queues"`

	// RestartOnPanic restarts a worker whose callback panicked. When false
	// the worker stays dead and its queue loses that worker.
	RestartOnPanic bool `json:"restart_on_panic,omitempty"`

	Journal  *JournalConfig   `json:"journal,omitempty"`
	Debug    DebugConfig      `json:"debug,omitempty"`
	Periodic []PeriodicConfig `json:"periodic,omitempty"`
	Watchdog WatchdogConfig   `json:"watchdog,omitempty"`
}

// QueuesConfig describes the three standard queues.
//
// Defaults:
//   - hpwork: enabled, 1 worker, lock "critical"
//   - lpwork: enabled, 2 workers, lock "mutex"
//   - usrwork: enabled, 1 worker, lock "mutex"
type QueuesConfig struct {
	HPWork  QueueConfig `json:"hpwork"`
	LPWork  QueueConfig `json:"lpwork"`
	UsrWork QueueConfig `json:"usrwork"`
}

// QueueConfig configures one queue. Enabled is a pointer so an omitted
// field keeps the default (enabled) while an explicit false disables it.
type QueueConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Workers int    `json:"workers,omitempty"`
	Lock    string `json:"lock,omitempty"` // "mutex" | "critical"
}

func (q QueueConfig) IsEnabled() bool { return q.Enabled == nil || *q.Enabled }

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warnings and errors to stderr as one-line alerts,
// rate limited.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// JournalConfig controls persistence of dispatch records.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./var/kwork.db" }
type JournalConfig struct {
	Driver      string `json:"driver"` // "file" | "sqlite" | "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Buffer      int    `json:"buffer,omitempty"`
	MaxBytes    int64  `json:"max_bytes,omitempty"` // file only; rotate above this size
}

// DebugConfig controls the optional debug HTTP server.
//
// Prefer a loopback address. A non-loopback address needs a token or an
// explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// PeriodicConfig declares a built-in periodic job.
type PeriodicConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`        // cron, "@every 1m", "30s", "01:30"
	Queue    string `json:"queue,omitempty"` // default "lpwork"
	Action   string `json:"action"`          // "stats"
}

// WatchdogConfig controls systemd readiness and watchdog pings.
type WatchdogConfig struct {
	Enabled bool   `json:"enabled"`
	Queue   string `json:"queue,omitempty"` // default "hpwork"
}
