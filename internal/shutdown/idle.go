// Package shutdown signals graceful shutdown once the server has gone idle,
// for scale-to-zero hosting where the platform stops machines that stay quiet.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// BackgroundWorkChecker reports whether background work is still in
// progress. Queued or running sync tasks keep the process alive.
type BackgroundWorkChecker func() bool

// IdleMonitor watches HTTP activity and background work, and closes its
// shutdown channel after a quiet period of at least the configured timeout.
type IdleMonitor struct {
	timeout             time.Duration
	logger              *slog.Logger
	excludePaths        []string
	backgroundWorkCheck BackgroundWorkChecker

	mu             sync.Mutex
	activeRequests int
	lastActivity   time.Time

	shutdownChan chan struct{}
	stopChan     chan struct{}
}

// IdleMonitorConfig configures an IdleMonitor.
type IdleMonitorConfig struct {
	// Timeout is the quiet period before shutdown. Zero disables the monitor.
	Timeout time.Duration
	Logger  *slog.Logger
	// ExcludePaths lists URL path prefixes that do not count as activity,
	// typically health check probes.
	ExcludePaths        []string
	BackgroundWorkCheck BackgroundWorkChecker
}

// NewIdleMonitor creates an idle monitor. With Timeout zero the monitor is
// inert: Start and Middleware become no-ops.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	return &IdleMonitor{
		timeout:             cfg.Timeout,
		logger:              cfg.Logger,
		excludePaths:        cfg.ExcludePaths,
		backgroundWorkCheck: cfg.BackgroundWorkCheck,
		lastActivity:        time.Now(),
		shutdownChan:        make(chan struct{}),
		stopChan:            make(chan struct{}),
	}
}

// Start launches the monitoring loop.
func (m *IdleMonitor) Start() {
	if m.timeout <= 0 {
		m.logger.Debug("idle monitoring disabled")
		return
	}
	m.logger.Info("idle monitoring started", "timeout", m.timeout, "exclude_paths", m.excludePaths)
	go m.run()
}

// Stop terminates the monitoring loop without signaling shutdown.
func (m *IdleMonitor) Stop() {
	if m.timeout <= 0 {
		return
	}
	close(m.stopChan)
}

// ShutdownChan returns the channel closed when the idle timeout is reached.
func (m *IdleMonitor) ShutdownChan() <-chan struct{} {
	return m.shutdownChan
}

// Middleware tracks request activity, skipping excluded paths.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if m.timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		m.track(1)
		defer m.track(-1)
		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) excluded(path string) bool {
	for _, prefix := range m.excludePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// track adjusts the in-flight request count and refreshes the activity
// timestamp on both entry and exit.
func (m *IdleMonitor) track(delta int) {
	m.mu.Lock()
	m.activeRequests += delta
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// touch resets the idle clock. Called while requests or background work
// are in flight so the full timeout applies after they finish.
func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *IdleMonitor) snapshot() (active int, idleFor time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRequests, time.Since(m.lastActivity)
}

func (m *IdleMonitor) run() {
	// Poll well inside the timeout so shutdown is not overly delayed.
	interval := m.timeout / 6
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			active, idleFor := m.snapshot()

			busy := false
			if m.backgroundWorkCheck != nil {
				busy = m.backgroundWorkCheck()
			}
			if active > 0 || busy {
				m.touch()
				idleFor = 0
			}

			if active == 0 && !busy && idleFor >= m.timeout {
				m.logger.Info("idle timeout reached, signaling graceful shutdown",
					"idle_time", idleFor, "timeout", m.timeout)
				close(m.shutdownChan)
				return
			}

			m.logger.Debug("idle check",
				"idle_time", idleFor, "active_requests", active, "background_busy", busy)
		}
	}
}
