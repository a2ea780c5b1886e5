package debugsrv

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"kwork/internal/config"
	"kwork/internal/kernel"
	"kwork/internal/periodic"
	"kwork/internal/workqueue"
	logx "kwork/pkg/logx"
)

// Config controls the debug HTTP server.
//
// A non-loopback Addr needs a Token unless AllowInsecure is set.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	ReadTimeout   time.Duration
	IdleTimeout   time.Duration
}

// FromConfig converts the debug section.
func FromConfig(c config.DebugConfig) (Config, error) {
	rt, it, err := c.Timeouts()
	if err != nil {
		return Config{}, err
	}
	return Config{Addr: c.Address(), Token: strings.TrimSpace(c.Token), AllowInsecure: c.AllowInsecure, ReadTimeout: rt, IdleTimeout: it}, nil
}

type Snapshotter interface {
	Snapshot() kernel.Snapshot
}

type RecentReader interface {
	Recent(ctx context.Context, n int) ([]workqueue.Record, error)
}

type JobLister interface {
	Status() []periodic.JobStatus
}

// Sources are the state the server exposes. Nil sources answer 404.
type Sources struct {
	Kernel   Snapshotter
	Journal  RecentReader
	Periodic JobLister
}

type Server struct {
	cfg Config
	src Sources
	log logx.Logger
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	return &Server{cfg: cfg, src: src, log: log.With(logx.String("comp", "debugsrv"))}
}

// Handler serves:
//
//	/healthz
//	/debug/pprof/*
//	/debug/workqueues       kernel snapshot
//	/debug/journal?n=50     latest dispatch records
//	/debug/periodic         periodic job status
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	mux.HandleFunc("GET /debug/workqueues", s.workqueues)
	mux.HandleFunc("GET /debug/journal", s.journal)
	mux.HandleFunc("GET /debug/periodic", s.periodic)
	return s.withAuth(mux)
}

func (s *Server) workqueues(w http.ResponseWriter, r *http.Request) {
	if s.src.Kernel == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.src.Kernel.Snapshot())
}

func (s *Server) journal(w http.ResponseWriter, r *http.Request) {
	if s.src.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(v, 10_000)
	}
	recs, err := s.src.Journal.Recent(r.Context(), n)
	if err != nil {
		s.log.Warn("journal read failed", logx.Err(err))
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []workqueue.Record{}
	}
	writeJSON(w, recs)
}

func (s *Server) periodic(w http.ResponseWriter, r *http.Request) {
	if s.src.Periodic == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.src.Periodic.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := s.cfg.Token
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var ErrInsecureBind = errors.New("debugsrv: non-loopback addr requires token or allow_insecure")

// Run listens on cfg.Addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return err
	}
	loopback := config.IsLoopbackHost(host)
	if !loopback && s.cfg.Token == "" {
		if !s.cfg.AllowInsecure {
			return ErrInsecureBind
		}
		s.log.Warn("debug server without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}
