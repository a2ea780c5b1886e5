package config

import (
	"reflect"
	"strings"

	logx "kwork/pkg/logx"
)

// Change describes the difference between two committed configs.
type Change struct {
	// Sections lists the top-level sections that differ.
	Sections []string
	// RestartRequired is set when a section only read at startup changed.
	RestartRequired bool
	// Fields are safe log attributes; tokens are never included.
	Fields []logx.Field
}

// liveSections apply without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeChange compares oldCfg and newCfg section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if !liveSections[section] {
			ch.RestartRequired = true
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.Tick) != strings.TrimSpace(newCfg.Tick) {
		mark("tick", logx.Duration("tick", newCfg.TickPeriod()))
	}
	if !reflect.DeepEqual(oldCfg.Queues, newCfg.Queues) {
		q := newCfg.Queues
		mark("queues",
			logx.Int("queues.hpwork.workers", q.HPWork.Workers),
			logx.Int("queues.lpwork.workers", q.LPWork.Workers),
			logx.Int("queues.usrwork.workers", q.UsrWork.Workers),
		)
	}
	if oldCfg.RestartOnPanic != newCfg.RestartOnPanic {
		mark("restart_on_panic", logx.Bool("restart_on_panic", newCfg.RestartOnPanic))
	}
	if !reflect.DeepEqual(oldCfg.Journal, newCfg.Journal) {
		driver := "none"
		if newCfg.Journal != nil && newCfg.Journal.Driver != "" {
			driver = newCfg.Journal.Driver
		}
		mark("journal", logx.String("journal.driver", driver))
	}
	if oldCfg.Debug != newCfg.Debug {
		mark("debug",
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Periodic, newCfg.Periodic) {
		mark("periodic", logx.Int("periodic.jobs", len(newCfg.Periodic)))
	}
	if oldCfg.Watchdog != newCfg.Watchdog {
		mark("watchdog", logx.Bool("watchdog.enabled", newCfg.Watchdog.Enabled))
	}
	return ch
}

// LogConfig converts the logging section for logx.Service.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    c.Alert.Enabled,
			MinLevel:   c.Alert.MinLevel,
			RatePerSec: c.Alert.RatePerSec,
		},
	}
}
