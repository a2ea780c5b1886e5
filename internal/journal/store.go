package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

var ErrClosed = errors.New("journal closed")

// Config configures a Store. An empty or "none" Driver disables the journal.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	MaxBytes    int64         // file only; 0 means 8 MiB
	MaxRows     int64         // sqlite only; 0 means 100000
}

// Store is the persistence API of the journal.
type Store interface {
	Append(ctx context.Context, recs []workqueue.Record) error
	// Recent returns up to n of the latest records, oldest first.
	Recent(ctx context.Context, n int) ([]workqueue.Record, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when the
// journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "journal"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", driver)
	}
}
