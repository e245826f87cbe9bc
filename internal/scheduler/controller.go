package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/rolesched/internal/bridge"
	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/internal/queue"
	"github.com/me/rolesched/internal/roles"
	"github.com/me/rolesched/internal/sampler"
	"github.com/me/rolesched/internal/tracker"
	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

const (
	// DefaultStopTimeout bounds how long a stop waits for a worker to exit
	// before the role is marked inactive anyway.
	DefaultStopTimeout = 5 * time.Second

	// DefaultStartStagger is the pause between role starts in StartAll.
	DefaultStartStagger = 2 * time.Second

	// monitorJoinTimeout bounds how long Stop waits for the monitor loop.
	monitorJoinTimeout = 2 * time.Second
)

// BehaviorFactory builds the behaviour a newly started role runs.
type BehaviorFactory func(role model.RoleID) (worker.Behavior, error)

// Options are the collaborators and tunables of a Controller. Zero values
// select defaults.
type Options struct {
	Sampler sampler.Sampler
	Tracker tracker.Tracker

	// RoleDeps seeds the built-in role behaviours. Bridge and Samples are
	// filled in by New.
	RoleDeps roles.Deps

	// Behaviors replaces the built-in role behaviours when set.
	Behaviors BehaviorFactory

	// Registry receives the controller's metrics. A fresh registry is used
	// when nil.
	Registry *prometheus.Registry

	StopTimeout    time.Duration
	StartStagger   time.Duration
	DequeueTimeout time.Duration
}

// roleState is one running worker.
type roleState struct {
	worker    *worker.Worker
	startedAt time.Time
}

// Controller is the admission controller. It is the only owner of the
// active-role set: every start and stop goes through opMu, so a scale-back
// tick and StopAll never act on the same role at once.
type Controller struct {
	// opMu serialises ticks, role starts, and StopAll.
	opMu sync.Mutex

	// mu guards the fields below it.
	mu       sync.Mutex
	cfg      config.Config
	catalog  *config.Catalog
	active   map[model.RoleID]*roleState
	draining map[model.RoleID]*worker.Worker // stopped but not yet exited

	monitorStop   chan struct{}
	monitorDone   chan struct{}
	cancelStartup context.CancelFunc

	latest    *sampler.Latest
	queues    *queue.Set
	bridge    *bridge.Bridge
	behaviors BehaviorFactory
	metrics   *Metrics
	registry  *prometheus.Registry
	logger    *slog.Logger
	base      *slog.Logger // handed to workers and the bridge

	// workerCtx outlives individual ticks; workers and their tasks run in it.
	workerCtx context.Context

	stopTimeout    time.Duration
	startStagger   time.Duration
	dequeueTimeout time.Duration
	now            func() time.Time
}

// New creates a Controller for cfg. No roles are started until Tick,
// StartAll, or Start runs.
func New(cfg config.Config, opts Options, logger *slog.Logger) *Controller {
	s := opts.Sampler
	if s == nil {
		s = sampler.FallbackSampler{}
	}
	latest, ok := s.(*sampler.Latest)
	if !ok {
		latest = sampler.NewLatest(s)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Controller{
		cfg:            cfg,
		catalog:        config.NewCatalog(cfg),
		active:         make(map[model.RoleID]*roleState),
		draining:       make(map[model.RoleID]*worker.Worker),
		latest:         latest,
		queues:         queue.NewSet(model.AllRoles()),
		metrics:        NewMetrics(reg),
		registry:       reg,
		logger:         logger.With("component", "scheduler"),
		base:           logger,
		workerCtx:      context.Background(),
		stopTimeout:    orDefault(opts.StopTimeout, DefaultStopTimeout),
		startStagger:   orDefault(opts.StartStagger, DefaultStartStagger),
		dequeueTimeout: orDefault(opts.DequeueTimeout, worker.DefaultDequeueTimeout),
		now:            time.Now,
	}
	c.bridge = bridge.New(c.queues, opts.Tracker, c.Priority, logger)

	c.behaviors = opts.Behaviors
	if c.behaviors == nil {
		deps := opts.RoleDeps
		deps.Bridge = c.bridge
		deps.Samples = c.latest
		if deps.Logger == nil {
			deps.Logger = logger
		}
		c.behaviors = func(role model.RoleID) (worker.Behavior, error) {
			return roles.New(role, deps)
		}
	}
	return c
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start runs the monitoring loop, ticking every MonitoringInterval. Blocks
// until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	stopCh, doneCh, ok := c.claimMonitor()
	if !ok {
		c.logger.Warn("resource monitoring is already active")
		return nil
	}
	return c.monitor(ctx, stopCh, doneCh)
}

// claimMonitor registers a new monitoring loop unless one is already active.
func (c *Controller) claimMonitor() (stopCh, doneCh chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorStop != nil {
		return nil, nil, false
	}
	stopCh, doneCh = make(chan struct{}), make(chan struct{})
	c.monitorStop, c.monitorDone = stopCh, doneCh
	return stopCh, doneCh, true
}

func (c *Controller) monitor(ctx context.Context, stopCh, doneCh chan struct{}) error {
	defer close(doneCh)

	interval := c.Config().Interval()
	c.logger.Info("resource monitoring started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("resource monitoring stopping (context cancelled)")
			c.clearMonitor(stopCh)
			return ctx.Err()
		case <-stopCh:
			c.logger.Info("resource monitoring stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx)
			if next := c.Config().Interval(); next != interval {
				interval = next
				ticker.Reset(interval)
				c.logger.Info("monitoring interval changed", "interval", interval)
			}
		}
	}
}

// clearMonitor forgets the loop identified by stopCh if it is still current.
func (c *Controller) clearMonitor(stopCh chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorStop == stopCh {
		c.monitorStop, c.monitorDone = nil, nil
	}
}

// Stop ends the monitoring loop, waiting briefly for an in-progress tick.
func (c *Controller) Stop() error {
	c.mu.Lock()
	stopCh, doneCh := c.monitorStop, c.monitorDone
	c.monitorStop, c.monitorDone = nil, nil
	c.mu.Unlock()
	if stopCh == nil {
		return nil
	}

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(monitorJoinTimeout):
		c.logger.Warn("monitor loop did not exit in time", "timeout", monitorJoinTimeout)
	}
	return nil
}

// Tick samples resources and makes at most one change to the active set:
// over a CPU or memory threshold it stops the lowest-priority active role,
// otherwise it starts the highest-priority inactive role whose estimated
// footprint fits under both thresholds.
func (c *Controller) Tick(ctx context.Context) model.Decision {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sample, err := c.latest.Sample(ctx)
	if err != nil {
		c.logger.Error("resource sample failed", "error", err)
		return model.Decision{Action: model.ActionNone, Reason: "no resource sample: " + err.Error()}
	}
	c.metrics.observeSample(sample)
	c.logger.Debug("resource usage",
		"cpu_percent", sample.CPUPercent,
		"memory_percent", sample.MemPercent,
		"disk_percent", sample.DiskPercent,
	)

	c.mu.Lock()
	th := c.cfg.ResourceThresholds
	catalog := c.catalog
	var active, startable []model.RoleID
	for _, spec := range catalog.Roles() {
		switch {
		case c.active[spec.ID] != nil:
			active = append(active, spec.ID)
		case c.draining[spec.ID] == nil:
			startable = append(startable, spec.ID)
		}
	}
	c.mu.Unlock()

	decision := model.Decision{Action: model.ActionNone, Sample: sample}

	if sample.CPUPercent > th.CPUPercent || sample.MemPercent > th.MemoryPercent {
		if len(active) == 0 {
			decision.Reason = "over threshold with no active roles"
			return decision
		}
		victim := catalog.ByPriorityAsc(active)[0]
		c.logger.Warn("resource usage too high, scaling back roles",
			"cpu_percent", sample.CPUPercent, "memory_percent", sample.MemPercent, "role", victim)
		decision.Action = model.ActionScaleBack
		decision.Role = victim
		decision.Reason = fmt.Sprintf("cpu %.1f%% > %.1f%% or memory %.1f%% > %.1f%%",
			sample.CPUPercent, th.CPUPercent, sample.MemPercent, th.MemoryPercent)
		decision.Forced = !c.stopRole(victim)
		return decision
	}

	for _, id := range catalog.ByPriorityDesc(startable) {
		spec, _ := catalog.Get(id)
		if sample.CPUPercent+spec.EstimatedCPU < th.CPUPercent &&
			sample.MemPercent+spec.EstimatedMemory < th.MemoryPercent {
			if err := c.startRole(id); err != nil {
				c.logger.Error("start role", "role", id, "error", err)
				decision.Reason = err.Error()
				return decision
			}
			decision.Action = model.ActionScaleUp
			decision.Role = id
			decision.Reason = fmt.Sprintf("fits: cpu %.1f+%.1f < %.1f, memory %.1f+%.1f < %.1f",
				sample.CPUPercent, spec.EstimatedCPU, th.CPUPercent,
				sample.MemPercent, spec.EstimatedMemory, th.MemoryPercent)
			return decision
		}
	}

	if len(startable) == 0 {
		decision.Reason = "all roles active"
	} else {
		decision.Reason = "no inactive role fits under thresholds"
	}
	return decision
}

// startRole launches a worker for role. A role that is active or whose old
// worker is still draining is left alone. Callers hold opMu.
func (c *Controller) startRole(role model.RoleID) error {
	c.mu.Lock()
	if c.active[role] != nil {
		c.mu.Unlock()
		c.logger.Warn("role is already active", "role", role)
		return nil
	}
	if c.draining[role] != nil {
		c.mu.Unlock()
		c.logger.Warn("role is still draining, not restarting", "role", role)
		return nil
	}
	c.mu.Unlock()

	q, ok := c.queues.Get(role)
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	b, err := c.behaviors(role)
	if err != nil {
		return err
	}
	w := worker.New(role, b, q, c.base,
		worker.WithDequeueTimeout(c.dequeueTimeout),
		worker.WithTaskObserver(c.metrics.observeTask),
	)

	c.mu.Lock()
	c.active[role] = &roleState{worker: w, startedAt: c.now()}
	n := len(c.active)
	c.mu.Unlock()

	go w.Run(c.workerCtx)

	c.metrics.ScaleActions.WithLabelValues(string(model.ActionScaleUp), string(role)).Inc()
	c.metrics.ActiveRoles.Set(float64(n))
	c.logger.Info("started role", "role", role)
	return nil
}

// stopRole signals role's worker, waits up to stopTimeout, and removes the
// role from the active set either way. It reports whether the worker exited
// in time. Callers hold opMu.
func (c *Controller) stopRole(role model.RoleID) bool {
	c.mu.Lock()
	st := c.active[role]
	c.mu.Unlock()
	if st == nil {
		return true
	}

	c.logger.Info("stopping role", "role", role)
	st.worker.Stop()
	exited := st.worker.Wait(c.stopTimeout)
	c.deactivate(role, st.worker, exited)
	c.metrics.ScaleActions.WithLabelValues(string(model.ActionScaleBack), string(role)).Inc()
	return exited
}

// deactivate removes role from the active set. A worker that has not exited
// is tracked as draining so the role is not restarted beside it.
func (c *Controller) deactivate(role model.RoleID, w *worker.Worker, exited bool) {
	c.mu.Lock()
	delete(c.active, role)
	if !exited {
		c.draining[role] = w
	}
	n := len(c.active)
	c.mu.Unlock()
	c.metrics.ActiveRoles.Set(float64(n))

	if exited {
		return
	}
	c.metrics.StopTimeouts.WithLabelValues(string(role)).Inc()
	c.logger.Warn("role marked inactive before its worker exited",
		"role", role, "timeout", c.stopTimeout)
	go func() {
		<-w.Done()
		c.mu.Lock()
		if c.draining[role] == w {
			delete(c.draining, role)
		}
		c.mu.Unlock()
		c.logger.Info("draining role exited", "role", role)
	}()
}

// StartAll starts the monitoring loop and then every role, highest priority
// first, pausing StartStagger between starts so the monitor can react.
// It returns once every role has been started or StopAll is called.
func (c *Controller) StartAll(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancelStartup != nil {
		c.cancelStartup()
	}
	c.cancelStartup = cancel
	ids := c.catalog.ByPriorityDesc(model.AllRoles())
	c.mu.Unlock()

	c.logger.Info("starting all roles with resource limitations")
	// Join a monitor left by an earlier StartAll, then register the new one
	// before returning so a later StartAll or StopAll always finds it.
	c.Stop()
	if stopCh, doneCh, ok := c.claimMonitor(); ok {
		go c.monitor(ctx, stopCh, doneCh)
	} else {
		c.logger.Warn("resource monitoring is already active")
	}

	for i, id := range ids {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.startStagger):
			}
		}

		c.opMu.Lock()
		if ctx.Err() != nil {
			c.opMu.Unlock()
			return
		}
		if err := c.startRole(id); err != nil {
			c.logger.Error("start role", "role", id, "error", err)
		}
		c.opMu.Unlock()
	}
}

// StopAll stops the monitoring loop and every active role, waiting up to
// StopTimeout in total for their workers, then clears the active set.
func (c *Controller) StopAll() {
	c.logger.Info("stopping all active roles")

	c.mu.Lock()
	if c.cancelStartup != nil {
		c.cancelStartup()
		c.cancelStartup = nil
	}
	c.mu.Unlock()
	c.Stop()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	stopping := make(map[model.RoleID]*worker.Worker, len(c.active))
	for id, st := range c.active {
		stopping[id] = st.worker
	}
	c.mu.Unlock()

	for _, w := range stopping {
		w.Stop()
	}
	deadline := c.now().Add(c.stopTimeout)
	for id, w := range stopping {
		exited := w.Wait(time.Until(deadline))
		c.deactivate(id, w, exited)
	}
}

// Submit enqueues task for role through the workflow lock bridge.
func (c *Controller) Submit(ctx context.Context, role model.RoleID, task model.Task) (model.Task, bool) {
	got, ok := c.bridge.Submit(ctx, role, task)
	if ok {
		c.metrics.TasksSubmitted.WithLabelValues(string(role)).Inc()
	}
	return got, ok
}

// Status returns a snapshot of every role in catalog order.
func (c *Controller) Status() []model.RoleStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.RoleStatus, 0, len(c.catalog.Roles()))
	for _, spec := range c.catalog.Roles() {
		rs := model.RoleStatus{
			Role:            spec.ID,
			Priority:        spec.Priority,
			EstimatedCPU:    spec.EstimatedCPU,
			EstimatedMemory: spec.EstimatedMemory,
		}
		if q, ok := c.queues.Get(spec.ID); ok {
			rs.QueueDepth = q.Len()
		}
		if st := c.active[spec.ID]; st != nil {
			started := st.startedAt
			rs.Active = true
			rs.StartedAt = &started
			rs.StopRequested = st.worker.StopRequested()
		} else if c.draining[spec.ID] != nil {
			rs.StopRequested = true
		}
		out = append(out, rs)
	}
	return out
}

// Active returns the active roles in catalog order.
func (c *Controller) Active() []model.RoleID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.RoleID
	for _, spec := range c.catalog.Roles() {
		if c.active[spec.ID] != nil {
			out = append(out, spec.ID)
		}
	}
	return out
}

// LastSample returns the most recent successful resource sample.
func (c *Controller) LastSample() (model.ResourceSample, bool) {
	return c.latest.Last()
}

// Samples exposes the latest-sample cache for roles that report usage.
func (c *Controller) Samples() *sampler.Latest { return c.latest }

// Config returns the configuration in effect.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig replaces thresholds, priorities, requirements, and interval.
// Running roles are unaffected until the next tick.
func (c *Controller) UpdateConfig(cfg config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.catalog = config.NewCatalog(cfg)
	c.mu.Unlock()
	c.logger.Info("configuration updated",
		"cpu_threshold", cfg.ResourceThresholds.CPUPercent,
		"memory_threshold", cfg.ResourceThresholds.MemoryPercent,
		"interval", cfg.Interval(),
	)
}

// Priority returns the configured priority of role.
func (c *Controller) Priority(role model.RoleID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.catalog.Get(role); !ok {
		return bridge.DefaultPriority
	}
	return c.catalog.Priority(role)
}

// Registry returns the Prometheus registry holding the controller's metrics.
func (c *Controller) Registry() *prometheus.Registry { return c.registry }

var _ Scheduler = (*Controller)(nil)
