package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/metrics"
)

// Status represents the health of the schedules API.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BackendHealth holds the latest probe outcome.
type BackendHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Prober is the backend operation the checker calls.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

// Checker periodically probes the schedules API.
type Checker struct {
	mu      sync.RWMutex
	state   BackendHealth
	prober  Prober
	path    string
	metrics *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a health checker that probes path on p.
func NewChecker(p Prober, path string, m *metrics.Collector, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		prober:            p,
		path:              path,
		metrics:           m,
		interval:          hcCfg.Interval,
		failureThreshold:  hcCfg.FailureThreshold,
		connectionTimeout: hcCfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold, "path", c.path)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	// Run immediately on start
	c.CheckNow()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckNow()
		case <-c.stopCh:
			return
		}
	}
}

// CheckNow probes the backend once and records the result.
func (c *Checker) CheckNow() {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	start := time.Now()
	err := c.prober.Probe(ctx, c.path)
	if c.metrics != nil {
		c.metrics.HealthCheckCompleted(time.Since(start))
	}
	c.updateStatus(err)
}

func (c *Checker) updateStatus(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th := &c.state
	th.LastCheck = time.Now()

	if err == nil {
		if th.ConsecutiveFailures > 0 {
			slog.Info("backend recovered", "failures", th.ConsecutiveFailures)
		}
		th.Status = StatusHealthy
		th.ConsecutiveFailures = 0
		th.LastError = ""
	} else {
		th.ConsecutiveFailures++
		th.LastError = err.Error()
		if th.ConsecutiveFailures >= c.failureThreshold {
			if th.Status != StatusUnhealthy {
				slog.Warn("backend marked unhealthy", "failures", th.ConsecutiveFailures, "error", th.LastError)
			}
			th.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetBackendHealth(th.Status != StatusUnhealthy)
	}
}

// IsHealthy reports whether the backend is healthy. Unknown counts as healthy.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status != StatusUnhealthy
}

// GetStatus returns the latest probe outcome.
func (c *Checker) GetStatus() BackendHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
