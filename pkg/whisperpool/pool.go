package whisperpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Fixed constants from spec.md §4.3 — never configurable.
const (
	healthInterval      = 5 * time.Second
	healthTimeout       = 2 * time.Second
	healthMaxFailures   = 3
	auditInterval       = 30 * time.Second
	startupTimeout      = 30 * time.Second
	maxSpawnFailures    = 5
	baseBackoff         = 5 * time.Second
	proxyTimeout        = 120 * time.Second
	rotationDrainWindow = 5 * time.Second
	gracefulDrainWindow = 2 * time.Second
	healthPollInterval  = 200 * time.Millisecond
)

// ManagerConfig carries the pool-shape inputs spec.md §6 lists.
type ManagerConfig struct {
	Size            int
	RotateThreshold int
	StartingPort    int
}

// Manager is the Pool Manager: it owns the worker registry, the
// round-robin cursor, the backoff table, the periodic sweeps, and the
// replacement policy (spec.md §4.3). It is an explicit object rather than
// module-level state, so tests can instantiate multiple independent
// managers side by side.
type Manager struct {
	cfg     ManagerConfig
	driver  *Driver
	prober  *Prober
	logger  *Logger
	metrics *Metrics
	cache   *StatusCache

	mu        sync.Mutex // guards workers, order, portIndex, backoff, cursor
	workers   map[string]*Worker
	order     []string // registration order; selection tie-breaks on this
	portIndex map[int]string
	backoff   map[int]*backoffRecord
	cursor    int

	sweepCancel context.CancelFunc
	wg          sync.WaitGroup
	disposed    atomic.Bool
}

// NewManager builds a Pool Manager. logger and metrics may be nil, in which
// case defaults are constructed. cache may also be nil, disabling the
// periodic status-snapshot persistence.
func NewManager(driverCfg DriverConfig, cfg ManagerConfig, logger *Logger, metrics *Metrics, cache *StatusCache) *Manager {
	if logger == nil {
		logger = NewLogger(LoggingConfig{Level: "info", Format: "json"})
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Manager{
		cfg:       cfg,
		driver:    NewDriver(driverCfg, logger),
		prober:    NewProber(),
		logger:    logger,
		metrics:   metrics,
		cache:     cache,
		workers:   make(map[string]*Worker),
		portIndex: make(map[int]string),
		backoff:   make(map[int]*backoffRecord),
	}
}

// Init rejects an empty child command up front, spawns workers for ports
// [starting_port, starting_port+pool_size) sequentially, then arms the
// Health and Audit sweeps (spec.md §4.3.1).
func (m *Manager) Init(ctx context.Context) error {
	if m.driver.cfg.Cmd == "" {
		return ErrConfigMissing
	}

	for port := m.cfg.StartingPort; port < m.cfg.StartingPort+m.cfg.Size; port++ {
		if err := m.spawnWorker(ctx, port); err != nil {
			m.logger.Warn("initial spawn failed", "port", port, "error", err)
		}
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel

	m.wg.Add(2)
	go m.runHealthSweep(sweepCtx)
	go m.runAuditSweep(sweepCtx)

	return nil
}

// spawnWorker is the only path that creates a worker (spec.md §4.3.2): it
// checks the port's backoff record, forks the child, registers the
// handle, and waits for the first successful health probe before
// declaring success.
func (m *Manager) spawnWorker(ctx context.Context, port int) error {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.backoff[port]
	if !ok {
		rec = &backoffRecord{}
		m.backoff[port] = rec
	}
	if rec.blocked(now) {
		m.mu.Unlock()
		return nil // aborted by backoff; not an error
	}
	rec.lastAttempt = now
	m.mu.Unlock()

	m.metrics.recordSpawnAttempt()

	w, err := m.driver.spawn(port)
	if err != nil {
		m.mu.Lock()
		rec.count++
		m.mu.Unlock()
		m.metrics.recordSpawnFailure()
		return fmt.Errorf("spawn worker on port %d: %w", port, err)
	}

	m.register(w)

	if waitForHealthy(ctx, m.prober, w, startupTimeout) {
		w.markHealthy()
		m.mu.Lock()
		delete(m.backoff, port)
		m.mu.Unlock()
		return nil
	}

	m.unregister(w)
	m.mu.Lock()
	rec.count++
	m.mu.Unlock()
	m.driver.terminate(w, false)
	m.metrics.recordSpawnFailure()
	return fmt.Errorf("worker on port %d failed to become healthy within %s", port, startupTimeout)
}

func (m *Manager) register(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.id] = w
	m.portIndex[w.port] = w.id
	m.order = append(m.order, w.id)
}

func (m *Manager) unregister(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, w.id)
	if m.portIndex[w.port] == w.id {
		delete(m.portIndex, w.port)
	}
	for i, id := range m.order {
		if id == w.id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// runHealthSweep fires every HEALTH_INTERVAL_MS. It never waits on the
// prior sweep's probes before starting the next (spec.md §4.3.3).
func (m *Manager) runHealthSweep(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.healthSweepOnce(ctx)
		}
	}
}

func (m *Manager) healthSweepOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Worker, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.workers[id])
	}
	m.mu.Unlock()

	healthy := 0
	for _, w := range snapshot {
		if w.State() == WorkerStateHealthy {
			healthy++
		}
	}
	m.metrics.setPoolCounts(len(snapshot), healthy)

	// Probes are launched without waiting for the collective result;
	// sweep N+1 may fire while sweep N's probes are still outstanding.
	// Safe because each worker's own counters are serialized by its
	// atomic fields, not by the sweep loop.
	for _, w := range snapshot {
		w := w
		go func() {
			if m.prober.Probe(ctx, w.BaseURL()) {
				if w.ConsecutiveFailures() > 0 {
					m.logger.Info("worker recovered", "worker_id", w.ID())
				}
				w.markHealthy()
				m.metrics.recordProbeSuccess()
				return
			}

			m.metrics.recordProbeFailure()
			n := w.recordFailure()
			switch {
			case n >= healthMaxFailures:
				m.replaceWorker(context.Background(), w)
			case n == healthMaxFailures-1:
				m.logger.Warn("worker nearing failure threshold", "worker_id", w.ID(), "consecutive_failures", n)
			}
		}()
	}
}

// runAuditSweep fires every AUDIT_INTERVAL_MS (spec.md §4.3.4).
func (m *Manager) runAuditSweep(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(auditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.auditSweepOnce(ctx)
		}
	}
}

func (m *Manager) auditSweepOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Worker, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.workers[id])
	}
	m.mu.Unlock()

	// Pass 1: dead-process respawn — the only respawn path for
	// unexpected child deaths (crashes, OOM kills, etc).
	for _, w := range snapshot {
		if !w.alive() {
			m.unregister(w)
			if err := m.spawnWorker(ctx, w.port); err != nil {
				m.logger.Warn("respawn after dead process failed", "port", w.port, "error", err)
			}
		}
	}

	// Pass 2: pool-level recovery when every worker is gone.
	m.mu.Lock()
	empty := len(m.workers) == 0
	m.mu.Unlock()
	if empty {
		m.recoverPool(ctx)
	}

	// Pass 3: low-watermark warn.
	m.mu.Lock()
	healthy := 0
	for _, id := range m.order {
		if w := m.workers[id]; w != nil && w.State() == WorkerStateHealthy {
			healthy++
		}
	}
	m.mu.Unlock()
	if healthy < m.cfg.Size/2 {
		m.logger.Warn("healthy worker count below watermark", "healthy", healthy, "pool_size", m.cfg.Size)
	}

	if m.cache != nil {
		if err := m.cache.Save(m.PoolStatus()); err != nil {
			m.logger.Warn("failed to persist pool status snapshot", "error", err)
		}
	}
}

// recoverPool iterates the configured port range and spawns workers for
// ports that currently have no registered worker (spec.md §4.3.4).
func (m *Manager) recoverPool(ctx context.Context) {
	for port := m.cfg.StartingPort; port < m.cfg.StartingPort+m.cfg.Size; port++ {
		m.mu.Lock()
		_, exists := m.portIndex[port]
		m.mu.Unlock()
		if exists {
			continue
		}
		if err := m.spawnWorker(ctx, port); err != nil {
			m.logger.Warn("recover_pool spawn failed", "port", port, "error", err)
		}
	}
}

// replaceWorker implements spec.md §4.3.5. A per-worker replacementPending
// flag (the implementer-chosen guard spec.md §9 invites) ensures that a
// worker flagged for replacement by both the Health Sweep and
// rotation-on-threshold is only ever replaced once.
func (m *Manager) replaceWorker(ctx context.Context, w *Worker) {
	if !w.replacementPending.CompareAndSwap(false, true) {
		return
	}

	w.setState(WorkerStateUnhealthy)
	w.acceptingRequests.Store(false)
	m.unregister(w)
	m.metrics.recordReplacement()

	_ = m.spawnWorker(ctx, w.port)

	// The old process is kept running through the spawn window: if the
	// replacement fails fast, capacity is not gratuitously reduced.
	m.driver.terminate(w, true)
}

// scheduleRotation implements spec.md §4.3.6: once a worker crosses
// rotate_threshold requests, it stops accepting new work immediately and
// is replaced after a drain window.
func (m *Manager) scheduleRotation(ctx context.Context, w *Worker) {
	if int(w.RequestCount()) < m.cfg.RotateThreshold {
		return
	}
	w.acceptingRequests.Store(false)
	m.metrics.recordRotation()
	m.logger.InfoContext(ctx, "worker scheduled for rotation", "worker_id", w.ID(), "request_count", w.RequestCount())

	go func() {
		time.Sleep(rotationDrainWindow)
		m.replaceWorker(context.Background(), w)
	}()
}

// selectWorker implements round-robin dispatch over the selectable set
// (spec.md §4.3.7). The set is rebuilt on every call; only the cursor
// carries state across calls.
func (m *Manager) selectWorker() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	var selectable []*Worker
	for _, id := range m.order {
		w := m.workers[id]
		if w != nil && w.State() == WorkerStateHealthy && w.AcceptingRequests() {
			selectable = append(selectable, w)
		}
	}
	if len(selectable) == 0 {
		return nil
	}

	idx := m.cursor % len(selectable)
	m.cursor = (m.cursor + 1) % len(selectable)
	return selectable[idx]
}

// WorkerStatus is one element of PoolStatus.Workers (spec.md §6).
type WorkerStatus struct {
	ID                  string `json:"id"`
	Port                int    `json:"port"`
	State               string `json:"state"`
	RequestCount        uint64 `json:"request_count"`
	ConsecutiveFailures int32  `json:"consecutive_failures"`
	AcceptingRequests   bool   `json:"accepting_requests"`
	UptimeMs            int64  `json:"uptime_ms"`
}

// PoolStatus is the outer contract's get_pool_status() shape (spec.md §6).
type PoolStatus struct {
	TotalWorkers   int            `json:"total_workers"`
	HealthyWorkers int            `json:"healthy_workers"`
	Workers        []WorkerStatus `json:"workers"`
}

// PoolStatus returns a snapshot of every registered worker's state.
func (m *Manager) PoolStatus() PoolStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poolStatusLocked()
}

func (m *Manager) poolStatusLocked() PoolStatus {
	status := PoolStatus{}
	for _, id := range m.order {
		w := m.workers[id]
		if w == nil {
			continue
		}
		if w.State() == WorkerStateHealthy {
			status.HealthyWorkers++
		}
		status.Workers = append(status.Workers, WorkerStatus{
			ID:                  w.ID(),
			Port:                w.Port(),
			State:               w.State().String(),
			RequestCount:        w.RequestCount(),
			ConsecutiveFailures: w.ConsecutiveFailures(),
			AcceptingRequests:   w.AcceptingRequests(),
			UptimeMs:            w.uptime().Milliseconds(),
		})
	}
	status.TotalWorkers = len(status.Workers)
	return status
}

// Dispose cancels both periodic sweeps, gracefully terminates every
// registered worker, and clears the registry (spec.md §4.3.8). A second
// call is a no-op.
func (m *Manager) Dispose(ctx context.Context) error {
	if !m.disposed.CompareAndSwap(false, true) {
		return nil
	}

	if m.sweepCancel != nil {
		m.sweepCancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.order))
	for _, id := range m.order {
		workers = append(workers, m.workers[id])
	}
	m.workers = make(map[string]*Worker)
	m.portIndex = make(map[int]string)
	m.order = nil
	m.mu.Unlock()

	for _, w := range workers {
		m.driver.terminate(w, true)
	}

	return nil
}
