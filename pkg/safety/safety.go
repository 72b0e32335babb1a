// Package safety holds the machine safety status reported by the field
// layer, the emergency latch and a staleness watchdog. The status is
// consumed as reported; the only judgement made here is that a report
// older than the stale timeout no longer counts as safe.
package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
)

// Reasons reported when no usable field-layer status exists.
const (
	ReasonNoStatus = "no safety status received"
	ReasonStale    = "safety status stale"
)

// Status is one field-layer safety record.
type Status struct {
	Safe     bool      `json:"safe"`
	Reasons  []string  `json:"reasons,omitempty"`
	Source   string    `json:"source,omitempty"`
	Received time.Time `json:"received"`
}

func (s Status) clone() Status {
	if s.Reasons != nil {
		s.Reasons = append([]string(nil), s.Reasons...)
	}
	return s
}

// Config holds the [safety] settings.
type Config struct {
	// StaleTimeout is the age after which a status no longer counts as
	// safe. Zero disables staleness checks.
	StaleTimeout time.Duration
	// CheckInterval is the watchdog period; defaults to StaleTimeout/2.
	CheckInterval time.Duration
}

// Monitor owns the latest safety status. Current never blocks on
// writers; it is called by the dispatch gate before every command.
type Monitor struct {
	cfg    Config
	now    func() time.Time
	logger *log.Logger

	status atomic.Pointer[Status]
	stale  atomic.Bool

	mu              sync.RWMutex
	emergency       bool
	emergencyReason string
	emergencyTime   time.Time
	onEmergency     []func(reason string)
	onChange        []func(Status)

	watchMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a monitor with no status; Current reports unsafe
// until the first Update.
func NewMonitor(cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = cfg.StaleTimeout / 2
	}
	return &Monitor{
		cfg:    cfg,
		now:    time.Now,
		logger: log.GetLogger("safety"),
	}
}

// Update installs a new status. A zero Received time is set to now.
func (m *Monitor) Update(s Status) {
	s = s.clone()
	if s.Received.IsZero() {
		s.Received = m.now()
	}
	prev := m.status.Swap(&s)
	m.stale.Store(false)

	if prev == nil || prev.Safe != s.Safe {
		entry := m.logger.WithFields(log.Fields{"safe": s.Safe, "reasons": s.Reasons, "source": s.Source})
		if s.Safe {
			entry.Info("safety status safe")
		} else {
			entry.Warn("safety status unsafe")
		}
		m.notifyChange(s)
	}
}

// Current returns the status the gate must act on. A missing or stale
// status is reported as unsafe.
func (m *Monitor) Current() Status {
	p := m.status.Load()
	if p == nil {
		return Status{Safe: false, Reasons: []string{ReasonNoStatus}}
	}
	s := p.clone()
	if m.isStale(s) {
		s.Safe = false
		s.Reasons = append(s.Reasons, ReasonStale)
	}
	return s
}

// IsSafe is shorthand for Current().Safe.
func (m *Monitor) IsSafe() bool {
	p := m.status.Load()
	return p != nil && p.Safe && !m.isStale(*p)
}

func (m *Monitor) isStale(s Status) bool {
	return m.cfg.StaleTimeout > 0 && m.now().Sub(s.Received) > m.cfg.StaleTimeout
}

// Emergency latches the emergency state and runs the OnEmergency
// callbacks. Repeated calls while latched are ignored.
func (m *Monitor) Emergency(reason string) {
	m.mu.Lock()
	if m.emergency {
		m.mu.Unlock()
		return
	}
	m.emergency = true
	m.emergencyReason = reason
	m.emergencyTime = m.now()
	callbacks := make([]func(string), len(m.onEmergency))
	copy(callbacks, m.onEmergency)
	m.mu.Unlock()

	m.logger.WithField("reason", reason).Error("emergency stop")
	for _, fn := range callbacks {
		fn(reason)
	}
}

// InEmergency reports whether the emergency latch is set.
func (m *Monitor) InEmergency() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergency
}

// EmergencyInfo returns the latch reason and time.
func (m *Monitor) EmergencyInfo() (string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyReason, m.emergencyTime
}

// Reset clears the emergency latch. It is refused while the current
// status is unsafe.
func (m *Monitor) Reset() error {
	if cur := m.Current(); !cur.Safe {
		return cncerr.SafetyRejectedError(cur.Reasons)
	}
	m.mu.Lock()
	m.emergency = false
	m.emergencyReason = ""
	m.emergencyTime = time.Time{}
	m.mu.Unlock()
	m.logger.Info("emergency latch reset")
	return nil
}

// OnEmergency registers fn to run when the latch is set.
func (m *Monitor) OnEmergency(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmergency = append(m.onEmergency, fn)
}

// OnChange registers fn to run when the safe flag flips or the status
// goes stale.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Monitor) notifyChange(s Status) {
	m.mu.RLock()
	callbacks := make([]func(Status), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn(s)
	}
}

// Start runs the staleness watchdog until ctx is done or Stop is called.
// It does nothing when staleness checks are disabled.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.StaleTimeout <= 0 {
		return
	}
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.watchdog(ctx, m.done)
}

// Stop ends the watchdog and waits for it to exit.
func (m *Monitor) Stop() {
	m.watchMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.watchMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkStale()
		}
	}
}

// checkStale reports the fresh to stale transition once per status.
func (m *Monitor) checkStale() {
	p := m.status.Load()
	if p == nil || !m.isStale(*p) || m.stale.Swap(true) {
		return
	}
	m.logger.WithFields(log.Fields{
		"age":     m.now().Sub(p.Received).String(),
		"timeout": m.cfg.StaleTimeout.String(),
	}).Warn("safety status stale")
	m.notifyChange(m.Current())
}
