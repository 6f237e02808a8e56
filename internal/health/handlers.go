package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing/internal/common"
)

var draining atomic.Bool

// SetReady toggles readiness. The api clears it before draining on shutdown.
func SetReady(v bool) {
	draining.Store(!v)
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// RedisProbe pings client.
func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// PoolProbe pings the Postgres pool.
func PoolProbe(pool *pgxpool.Pool) Probe {
	return pool.Ping
}

// Report is the readiness body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Probes are keyed by the name reported in Report.Checks.
	Probes map[string]Probe
	// Timeout bounds every probe; 500ms when unset.
	Timeout time.Duration
}

// Live answers 200 while the process is up.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs all probes concurrently and answers 200 only when every one
// passes, 503 otherwise.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "shutting_down"})
		return
	}
	if len(h.Probes) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "no_probes"})
		return
	}

	report := h.check(r.Context())
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, report)
}

func (h Handler) check(ctx context.Context) Report {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		report = Report{Status: "ok", Checks: make(map[string]string, len(h.Probes))}
		g      errgroup.Group
	)
	for name, probe := range h.Probes {
		g.Go(func() error {
			result := "ok"
			if err := probe(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result != "ok" {
				report.Status = "degraded"
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}
