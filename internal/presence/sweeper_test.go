package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) notify(username string) {
	r.mu.Lock()
	r.names = append(r.names, username)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(NewRegistry(nil), nil)
	assert.Equal(t, time.Second, s.Interval())
	assert.Equal(t, 10*time.Second, s.Timeout())
}

// An online user with no further pings goes offline once more than the
// timeout has elapsed, and on no earlier sweep.
func TestSweepExpiresAfterTimeoutWindow(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	rec := &recorder{}
	s := NewSweeper(reg, rec.notify, WithClock(clock))

	reg.SetStatus("alice", StatusOnline)

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		assert.Empty(t, s.Sweep(), "sweep at t=%ds", i+1)
	}

	// Exactly at T+10s the user is not yet stale.
	p, _ := reg.Get("alice")
	assert.Equal(t, StatusOnline, p.Status)

	clock.Advance(time.Second)
	assert.Equal(t, []string{"alice"}, s.Sweep())
	assert.Equal(t, []string{"alice"}, rec.list())

	p, _ = reg.Get("alice")
	assert.Equal(t, StatusOffline, p.Status)

	clock.Advance(time.Minute)
	assert.Empty(t, s.Sweep(), "offline entries are never re-notified")
	assert.Len(t, rec.list(), 1)
}

func TestSweepJustPastTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	s := NewSweeper(reg, nil, WithClock(clock))

	reg.SetStatus("alice", StatusOnline)
	clock.Advance(10*time.Second + time.Millisecond)

	assert.Equal(t, []string{"alice"}, s.Sweep())
}

func TestSweepKeepsUsersThatPing(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	s := NewSweeper(reg, nil, WithClock(clock))

	reg.SetStatus("alice", StatusOnline)
	reg.SetStatus("bob", StatusOnline)
	for i := 0; i < 30; i++ {
		clock.Advance(time.Second)
		if i%5 == 0 {
			reg.SetStatus("bob", StatusOnline)
		}
		s.Sweep()
	}

	alice, _ := reg.Get("alice")
	bob, _ := reg.Get("bob")
	assert.Equal(t, StatusOffline, alice.Status)
	assert.Equal(t, StatusOnline, bob.Status)
}

func TestSweepEvictsWhenConfigured(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	s := NewSweeper(reg, nil, WithClock(clock), WithEvictAfter(time.Hour))

	reg.SetStatus("alice", StatusOnline)
	clock.Advance(11 * time.Second)
	s.Sweep()
	require.Equal(t, 1, reg.Len())

	clock.Advance(time.Hour + time.Second)
	s.Sweep()
	assert.Equal(t, 0, reg.Len())
}

func TestSweepWithoutEvictionKeepsEntries(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	s := NewSweeper(reg, nil, WithClock(clock))

	reg.SetStatus("alice", StatusOffline)
	clock.Advance(365 * 24 * time.Hour)
	s.Sweep()
	assert.Equal(t, 1, reg.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &recorder{}
	s := NewSweeper(reg, rec.notify,
		WithInterval(10*time.Millisecond),
		WithTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	reg.SetStatus("alice", StatusOnline)
	require.Eventually(t, func() bool {
		return len(rec.list()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

type trackingLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *trackingLocker) Lock()   { l.mu.Lock(); l.held = true }
func (l *trackingLocker) Unlock() { l.held = false; l.mu.Unlock() }

func TestSweepHoldsLockerAcrossExpiryAndNotify(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)
	lock := &trackingLocker{}

	var heldDuringNotify []bool
	s := NewSweeper(reg, func(string) {
		heldDuringNotify = append(heldDuringNotify, lock.held)
	}, WithClock(clock), WithLocker(lock))

	reg.SetStatus("alice", StatusOnline)
	reg.SetStatus("bob", StatusOnline)
	clock.Advance(11 * time.Second)

	assert.ElementsMatch(t, []string{"alice", "bob"}, s.Sweep())
	assert.Equal(t, []bool{true, true}, heldDuringNotify)
	assert.False(t, lock.held)
}
