package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through at a time.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

const windowBuckets = 10

// BreakerSettings tune a Breaker. Zero values get defaults.
type BreakerSettings struct {
	// Target labels metrics and logs, e.g. "commerce".
	Target string
	// MinRequests is the sample size needed before the ratio is evaluated.
	MinRequests int
	// FailureRatio opens the breaker once reached, in (0, 1].
	FailureRatio float64
	// OpenFor is the cool-off before a half-open probe is allowed.
	OpenFor time.Duration
	// Window bounds how long an outcome counts towards the ratio.
	Window time.Duration
	// Probes is the number of consecutive half-open successes needed to close.
	Probes int
	Logger zerolog.Logger
	Now    func() time.Time
}

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker opens when the failure ratio over a rolling window reaches the
// configured threshold.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerSettings
	state    State
	buckets  [windowBuckets]bucket
	openedAt time.Time
	probing  bool
	passed   int
}

// NewBreaker constructs a closed breaker from s.
func NewBreaker(s BreakerSettings) *Breaker {
	if s.MinRequests <= 0 {
		s.MinRequests = 1
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.5
	}
	if s.FailureRatio > 1 {
		s.FailureRatio = 1
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	s.Target = strings.TrimSpace(s.Target)
	if s.Target == "" {
		s.Target = "default"
	}
	b := &Breaker{cfg: s, state: Closed}
	BreakerState.WithLabelValues(s.Target).Set(Closed.gauge())
	return b
}

// Target returns the breaker's metric label.
func (b *Breaker) Target() string {
	return b.cfg.Target
}

// State returns the current state, moving Open to HalfOpen once the cool-off
// has elapsed.
func (b *Breaker) State(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coolOffLocked(ctx)
	return b.state
}

// Allow reports whether a request may proceed. In half-open only one probe is
// in flight at a time; every permitted request must be followed by Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coolOffLocked(ctx)

	switch b.state {
	case Open:
		BreakerRejected.WithLabelValues(b.cfg.Target).Inc()
		return false
	case HalfOpen:
		if b.probing {
			BreakerRejected.WithLabelValues(b.cfg.Target).Inc()
			return false
		}
		b.probing = true
	}
	return true
}

// Report records the outcome of a permitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if !success {
			b.transitionLocked(ctx, Open)
			return
		}
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.transitionLocked(ctx, Closed)
		}
		return
	}

	cur := b.currentBucketLocked()
	if success {
		cur.successes++
	} else {
		cur.failures++
	}
	successes, failures := b.totalsLocked()
	total := successes + failures
	if total < b.cfg.MinRequests {
		return
	}
	if float64(failures)/float64(total) >= b.cfg.FailureRatio {
		b.transitionLocked(ctx, Open)
	}
}

func (b *Breaker) coolOffLocked(ctx context.Context) {
	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.OpenFor {
		b.transitionLocked(ctx, HalfOpen)
	}
}

func (b *Breaker) bucketWidth() time.Duration {
	width := b.cfg.Window / windowBuckets
	if width <= 0 {
		width = time.Millisecond
	}
	return width
}

func (b *Breaker) currentBucketLocked() *bucket {
	width := b.bucketWidth()
	now := b.cfg.Now()
	start := now.Truncate(width)
	idx := int(start.UnixNano()/int64(width)) % windowBuckets
	if idx < 0 {
		idx += windowBuckets
	}
	cur := &b.buckets[idx]
	if !cur.start.Equal(start) {
		*cur = bucket{start: start}
	}
	return cur
}

func (b *Breaker) totalsLocked() (successes, failures int) {
	cutoff := b.cfg.Now().Add(-b.cfg.Window)
	for _, bk := range b.buckets {
		if bk.start.IsZero() || !bk.start.After(cutoff) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.probing = false
	b.passed = 0
	switch next {
	case Open:
		b.openedAt = b.cfg.Now()
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	case Closed:
		b.openedAt = time.Time{}
		b.buckets = [windowBuckets]bucket{}
	}
	BreakerState.WithLabelValues(b.cfg.Target).Set(next.gauge())
	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()

	logger := b.cfg.Logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = *ctxLogger
	}
	evt := logger.Info().Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

// Backoff returns an exponential backoff duration for the provided attempt.
// Jitter is a fraction of the delay, e.g. 0.2 for 20%.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}
