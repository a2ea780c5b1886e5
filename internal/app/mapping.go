package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kwork/internal/config"
	"kwork/internal/journal"
	"kwork/internal/kernel"
	"kwork/internal/periodic"
)

// validateConfig checks what config.Validate cannot: schedules and queue
// references against the queues that will exist.
func validateConfig(_ context.Context, cfg *config.Config) error {
	kc, err := kernel.FromConfig(cfg)
	if err != nil {
		return err
	}
	var errs []error
	for i, p := range cfg.Periodic {
		if _, err := periodic.ParseSchedule(p.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("periodic[%d].schedule: %w", i, err))
		}
		if err := queueUsable(kc, p.Queue, kernel.LowPri); err != nil {
			errs = append(errs, fmt.Errorf("periodic[%d].queue: %w", i, err))
		}
	}
	if cfg.Watchdog.Enabled {
		if err := queueUsable(kc, cfg.Watchdog.Queue, kernel.HighPri); err != nil {
			errs = append(errs, fmt.Errorf("watchdog.queue: %w", err))
		}
	}
	return errors.Join(errs...)
}

func queueUsable(kc kernel.Config, name string, def kernel.QueueID) error {
	id, err := queueOrDefault(name, def)
	if err != nil {
		return err
	}
	if !kc.Queues[id].Enabled {
		return fmt.Errorf("%w: %s", kernel.ErrQueueDisabled, id)
	}
	return nil
}

func queueOrDefault(name string, def kernel.QueueID) (kernel.QueueID, error) {
	if strings.TrimSpace(name) == "" {
		return def, nil
	}
	return kernel.ParseQueueID(name)
}

func mapJournalConfig(cfg *config.Config) (journal.Config, int, error) {
	jc := cfg.Journal
	if jc == nil {
		return journal.Config{}, 0, nil
	}
	busy, err := jc.BusyTimeoutDuration()
	if err != nil {
		return journal.Config{}, 0, err
	}
	return journal.Config{
		Driver:      jc.Driver,
		Path:        jc.Path,
		BusyTimeout: busy,
		MaxBytes:    jc.MaxBytes,
	}, jc.Buffer, nil
}
