package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper scans the registry.
	DefaultSweepInterval = time.Second
	// DefaultTimeout is how long an online user may stay silent.
	DefaultTimeout = 10 * time.Second
)

// NotifyFunc is called once for every username the sweeper demotes.
type NotifyFunc func(username string)

// Sweeper periodically demotes online users whose last activity is older
// than the timeout. Worst-case detection latency is timeout + interval.
type Sweeper struct {
	registry   *Registry
	notify     NotifyFunc
	clock      Clock
	interval   time.Duration
	timeout    time.Duration
	evictAfter time.Duration
	lock       sync.Locker
	logger     *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTimeout sets how long an online user may go without announcing itself.
func WithTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithEvictAfter enables deletion of offline entries idle for longer than d.
// Zero disables eviction.
func WithEvictAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d >= 0 {
			s.evictAfter = d
		}
	}
}

// WithClock overrides the clock used to judge staleness.
func WithClock(c Clock) SweeperOption {
	return func(s *Sweeper) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocker makes each expiry and its notification run while holding l, so
// they cannot interleave with other presence writes guarded by the same lock.
func WithLocker(l sync.Locker) SweeperOption {
	return func(s *Sweeper) {
		s.lock = l
	}
}

// WithLogger sets the sweeper's logger.
func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSweeper builds a sweeper over registry. notify may be nil.
func NewSweeper(registry *Registry, notify NotifyFunc, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry: registry,
		notify:   notify,
		clock:    registry.clock,
		interval: DefaultSweepInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sweeper")
	return s
}

// Interval returns the configured poll interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Timeout returns the configured liveness timeout.
func (s *Sweeper) Timeout() time.Duration { return s.timeout }

// Sweep runs a single pass and returns the usernames it demoted.
func (s *Sweeper) Sweep() []string {
	now := s.clock.Now()
	cutoff := now.Add(-s.timeout)

	var expired []string
	for _, p := range s.registry.Snapshot() {
		if p.Status != StatusOnline || !p.LastActive.Before(cutoff) {
			continue
		}
		if !s.expire(p.Username, cutoff) {
			continue
		}
		expired = append(expired, p.Username)
		s.logger.Info("presence expired",
			"username", p.Username,
			"idle", now.Sub(p.LastActive).Truncate(time.Millisecond))
	}

	if s.evictAfter > 0 {
		if n := s.registry.Evict(now.Add(-s.evictAfter)); n > 0 {
			s.logger.Debug("evicted stale entries", "count", n)
		}
	}
	return expired
}

// expire demotes username and notifies. The snapshot may be stale by now;
// Expire re-checks under the registry lock.
func (s *Sweeper) expire(username string, cutoff time.Time) bool {
	if s.lock != nil {
		s.lock.Lock()
		defer s.lock.Unlock()
	}
	if !s.registry.Expire(username, cutoff) {
		return false
	}
	if s.notify != nil {
		s.notify(username)
	}
	return true
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "timeout", s.timeout)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
