package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

const defaultMaxBytes = 8 << 20

// fileStore appends records as JSON Lines to path. When the file grows
// past maxBytes it is renamed to path+".1", replacing the previous backup.
type fileStore struct {
	log      logx.Logger
	path     string
	maxBytes int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, maxBytes: cfg.MaxBytes}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBytes
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.size = st.Size()
	return nil
}

func (s *fileStore) Append(ctx context.Context, recs []workqueue.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	var buf []byte
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf = append(append(buf, b...), '\n')
	}
	n, err := s.f.Write(buf)
	s.size += int64(n)
	if err != nil {
		return err
	}
	if s.size >= s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			s.log.Warn("journal rotate failed", logx.String("path", s.path), logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) rotateLocked() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil
	if err := os.Rename(s.path, s.path+".1"); err != nil {
		_ = s.openLocked()
		return err
	}
	s.log.Debug("journal rotated", logx.String("path", s.path))
	return s.openLocked()
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]workqueue.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	ring := newRing(n)
	for _, p := range []string{s.path + ".1", s.path} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readLines(p, ring); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return ring.slice(), nil
}

func readLines(path string, ring *ring) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		var r workqueue.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Torn tail after a crash.
			continue
		}
		ring.push(r)
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ring keeps the last cap records pushed.
type ring struct {
	buf  []workqueue.Record
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]workqueue.Record, n)} }

func (r *ring) push(rec workqueue.Record) {
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) slice() []workqueue.Record {
	if !r.full {
		return append([]workqueue.Record(nil), r.buf[:r.next]...)
	}
	out := make([]workqueue.Record, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
