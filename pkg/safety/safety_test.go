package safety

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	cncerr "modax-cnc/pkg/errors"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestMonitor(stale time.Duration) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMonitor(Config{StaleTimeout: stale})
	m.now = clock.now
	return m, clock
}

func TestNoStatusIsUnsafe(t *testing.T) {
	m, _ := newTestMonitor(0)
	s := m.Current()
	if s.Safe {
		t.Fatal("expected unsafe before first update")
	}
	if len(s.Reasons) != 1 || s.Reasons[0] != ReasonNoStatus {
		t.Errorf("reasons = %v", s.Reasons)
	}
	if m.IsSafe() {
		t.Error("IsSafe should be false")
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		safe    bool
		reasons int
	}{
		{"safe", Status{Safe: true}, true, 0},
		{"unsafe", Status{Safe: false, Reasons: []string{"door open", "guard"}}, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestMonitor(time.Second)
			m.Update(tt.status)
			s := m.Current()
			if s.Safe != tt.safe {
				t.Errorf("Safe = %v, want %v", s.Safe, tt.safe)
			}
			if len(s.Reasons) != tt.reasons {
				t.Errorf("reasons = %v", s.Reasons)
			}
			if !s.Received.Equal(clock.t) {
				t.Errorf("Received = %v, want %v", s.Received, clock.t)
			}
		})
	}
}

func TestCurrentIsACopy(t *testing.T) {
	m, _ := newTestMonitor(0)
	reasons := []string{"door open"}
	m.Update(Status{Reasons: reasons})
	reasons[0] = "changed"
	s := m.Current()
	s.Reasons[0] = "mutated"
	if got := m.Current().Reasons[0]; got != "door open" {
		t.Errorf("stored reason = %q", got)
	}
}

func TestStaleStatusIsUnsafe(t *testing.T) {
	m, clock := newTestMonitor(250 * time.Millisecond)
	m.Update(Status{Safe: true})
	if !m.IsSafe() {
		t.Fatal("fresh status should be safe")
	}

	clock.t = clock.t.Add(200 * time.Millisecond)
	if !m.IsSafe() {
		t.Fatal("status within timeout should be safe")
	}

	clock.t = clock.t.Add(100 * time.Millisecond)
	s := m.Current()
	if s.Safe {
		t.Fatal("stale status should be unsafe")
	}
	if s.Reasons[len(s.Reasons)-1] != ReasonStale {
		t.Errorf("reasons = %v", s.Reasons)
	}

	m.Update(Status{Safe: true})
	if !m.IsSafe() {
		t.Error("new update should clear staleness")
	}
}

func TestCheckStaleNotifiesOnce(t *testing.T) {
	m, clock := newTestMonitor(100 * time.Millisecond)
	var calls atomic.Int32
	m.Update(Status{Safe: true})
	m.OnChange(func(s Status) {
		if s.Safe {
			t.Error("stale notification should be unsafe")
		}
		calls.Add(1)
	})

	m.checkStale()
	if calls.Load() != 0 {
		t.Fatal("fresh status should not notify")
	}
	clock.t = clock.t.Add(time.Second)
	m.checkStale()
	m.checkStale()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOnChangeOnFlip(t *testing.T) {
	m, _ := newTestMonitor(0)
	var calls atomic.Int32
	m.OnChange(func(Status) { calls.Add(1) })

	m.Update(Status{Safe: true})
	m.Update(Status{Safe: true})
	m.Update(Status{Safe: false})
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestEmergencyLatch(t *testing.T) {
	m, _ := newTestMonitor(0)
	var got []string
	m.OnEmergency(func(reason string) { got = append(got, reason) })

	m.Emergency("estop button")
	m.Emergency("second")
	if !m.InEmergency() {
		t.Fatal("latch not set")
	}
	if len(got) != 1 || got[0] != "estop button" {
		t.Errorf("callbacks = %v", got)
	}
	if reason, _ := m.EmergencyInfo(); reason != "estop button" {
		t.Errorf("reason = %q", reason)
	}
}

func TestResetRequiresSafeStatus(t *testing.T) {
	m, _ := newTestMonitor(0)
	m.Emergency("test")

	err := m.Reset()
	if !cncerr.Is(err, cncerr.ErrSafetyRejected) {
		t.Fatalf("Reset error = %v, want SAFETY_REJECTED", err)
	}
	if !m.InEmergency() {
		t.Fatal("latch cleared by rejected reset")
	}

	m.Update(Status{Safe: true})
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.InEmergency() {
		t.Error("latch still set")
	}
}

func TestWatchdogStartStop(t *testing.T) {
	m := NewMonitor(Config{StaleTimeout: 20 * time.Millisecond})
	stale := make(chan struct{}, 1)
	m.OnChange(func(s Status) {
		if !s.Safe {
			select {
			case stale <- struct{}{}:
			default:
			}
		}
	})
	m.Update(Status{Safe: true})

	m.Start(context.Background())
	m.Start(context.Background())
	defer m.Stop()

	select {
	case <-stale:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not report stale status")
	}
	m.Stop()
	m.Stop()
}

func TestStartDisabled(t *testing.T) {
	m := NewMonitor(Config{})
	m.Start(context.Background())
	m.watchMu.Lock()
	running := m.cancel != nil
	m.watchMu.Unlock()
	if running {
		t.Error("watchdog started with staleness disabled")
	}
}
