package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"kwork/internal/workqueue"
)

// Validate checks the parts of cfg that do not need other packages.
// Schedules are checked by the periodic validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if d, err := cfg.tickPeriod(); err != nil {
		add(err)
	} else if d < time.Millisecond {
		add(fmt.Errorf("tick: must be >= 1ms, got %s", d))
	}

	for name, q := range map[string]QueueConfig{
		"hpwork":  cfg.Queues.HPWork,
		"lpwork":  cfg.Queues.LPWork,
		"usrwork": cfg.Queues.UsrWork,
	} {
		if q.Workers < 0 {
			add(fmt.Errorf("queues.%s.workers: must be >= 0", name))
		}
		if _, err := workqueue.ParseLockKind(q.Lock); err != nil {
			add(fmt.Errorf("queues.%s.lock: %w", name, err))
		}
	}

	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(j.Path) == "" {
				add(fmt.Errorf("journal.path: required for driver %q", j.Driver))
			}
		default:
			add(fmt.Errorf("journal.driver: unknown driver %q", j.Driver))
		}
		if j.Buffer < 0 {
			add(errors.New("journal.buffer: must be >= 0"))
		}
		_, err := j.BusyTimeoutDuration()
		add(err)
	}

	if cfg.Debug.Enabled {
		add(validateDebug(cfg.Debug))
	}

	seen := map[string]bool{}
	for i, p := range cfg.Periodic {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			add(fmt.Errorf("periodic[%d].name: required", i))
		} else if seen[name] {
			add(fmt.Errorf("periodic[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(p.Schedule) == "" {
			add(fmt.Errorf("periodic[%d].schedule: required", i))
		}
		if a := strings.TrimSpace(p.Action); a != "stats" {
			add(fmt.Errorf("periodic[%d].action: unknown action %q", i, p.Action))
		}
	}
	return errors.Join(errs...)
}

func validateDebug(d DebugConfig) error {
	addr := d.Address()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if !IsLoopbackHost(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
		return fmt.Errorf("debug.addr: %q is not loopback; set debug.token or debug.allow_insecure", addr)
	}
	_, _, err = d.Timeouts()
	return err
}

// IsLoopbackHost reports whether host only accepts local connections.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
