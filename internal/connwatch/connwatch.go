// Package connwatch tracks the reachability of the services a request
// depends on (the model provider and the backend) so the health
// endpoint can report a degraded assistant before users hit errors.
//
// Each service is probed right away, then retried with exponential
// backoff while down and polled at a fixed interval while up.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config controls probe timing. Zero fields take defaults.
type Config struct {
	InitialDelay time.Duration // first retry after a failure (default 2s)
	MaxDelay     time.Duration // retry ceiling (default 60s)
	PollInterval time.Duration // interval while healthy (default 60s)
	ProbeTimeout time.Duration // per-probe bound (default 10s)
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// ServiceStatus is the health of one watched service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type service struct {
	name  string
	probe ProbeFunc

	mu     sync.Mutex
	status ServiceStatus
}

// Monitor probes a set of services in the background.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	services []*service
	wg       sync.WaitGroup
}

// New creates a monitor.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg.withDefaults(), logger: logger.With("component", "connwatch")}
}

// Watch starts probing probe under name until ctx is done. Name must be
// unique within the monitor.
func (m *Monitor) Watch(ctx context.Context, name string, probe ProbeFunc) {
	s := &service{name: name, probe: probe, status: ServiceStatus{Name: name}}
	m.mu.Lock()
	m.services = append(m.services, s)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, s)
	}()
}

// Wait blocks until every watch loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, s *service) {
	delay := m.cfg.InitialDelay
	for {
		err := m.check(ctx, s)
		wait := m.cfg.PollInterval
		if err != nil {
			wait = delay
			delay = min(delay*2, m.cfg.MaxDelay)
		} else {
			delay = m.cfg.InitialDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and logs state transitions.
func (m *Monitor) check(ctx context.Context, s *service) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := s.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	wasReady := s.status.Ready
	checked := !s.status.LastCheck.IsZero()
	s.status.Ready = err == nil
	s.status.LastCheck = time.Now()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		m.logger.Info("service reachable", "service", s.name)
	case err != nil && (wasReady || !checked):
		m.logger.Warn("service unreachable", "service", s.name, "error", err)
	case err != nil:
		m.logger.Debug("service still unreachable", "service", s.name, "error", err)
	}
	return err
}

// Status returns every service's health ordered by name.
func (m *Monitor) Status() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.services))
	for _, s := range m.services {
		s.mu.Lock()
		out = append(out, s.status)
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service answered its last
// probe.
func (m *Monitor) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}
