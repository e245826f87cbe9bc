package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/internal/sampler"
	"github.com/me/rolesched/internal/worker"
	"github.com/me/rolesched/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// idleBehavior does nothing, quickly.
type idleBehavior struct{}

func (idleBehavior) Handle(context.Context, model.Task) error { return nil }
func (idleBehavior) Idle(context.Context) error               { return nil }
func (idleBehavior) Interval() time.Duration                  { return 5 * time.Millisecond }

// blockingBehavior holds every task until release is closed.
type blockingBehavior struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBehavior) Handle(context.Context, model.Task) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}
func (b *blockingBehavior) Idle(context.Context) error { return nil }
func (b *blockingBehavior) Interval() time.Duration    { return 5 * time.Millisecond }

// factory records the order roles were built in.
type factory struct {
	mu       sync.Mutex
	built    []model.RoleID
	override map[model.RoleID]worker.Behavior
}

func (f *factory) build(role model.RoleID) (worker.Behavior, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, role)
	if b, ok := f.override[role]; ok {
		return b, nil
	}
	return idleBehavior{}, nil
}

func (f *factory) order() []model.RoleID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.built)
}

func testController(t *testing.T, cfg config.Config, s sampler.Sampler, f *factory) *Controller {
	t.Helper()
	if f == nil {
		f = &factory{}
	}
	c := New(cfg, Options{
		Sampler:        s,
		Behaviors:      f.build,
		StopTimeout:    500 * time.Millisecond,
		StartStagger:   5 * time.Millisecond,
		DequeueTimeout: 5 * time.Millisecond,
	}, newTestLogger())
	t.Cleanup(c.StopAll)
	return c
}

func activate(t *testing.T, c *Controller, roles ...model.RoleID) {
	t.Helper()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	for _, r := range roles {
		if err := c.startRole(r); err != nil {
			t.Fatalf("startRole(%s): %v", r, err)
		}
	}
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

// Scenario A: over the CPU threshold the lowest-priority active role stops.
func TestTick_ScaleBackStopsLowestPriority(t *testing.T) {
	s := sampler.NewStatic(85, 10, 10)
	c := testController(t, config.Default(), s, nil)
	activate(t, c, model.RoleGUITesting, model.RoleProjectManagement)

	d := c.Tick(context.Background())
	if d.Action != model.ActionScaleBack || d.Role != model.RoleGUITesting {
		t.Fatalf("decision = %+v, want scale_back gui_testing", d)
	}
	if d.Forced {
		t.Error("idle worker stop reported as forced")
	}
	if got := c.Active(); !slices.Equal(got, []model.RoleID{model.RoleProjectManagement}) {
		t.Errorf("active = %v, want [project_management]", got)
	}
	if v := metricValue(t, c.Registry(), "rolesched_scale_actions_total",
		map[string]string{"action": "scale_back", "role": "gui_testing"}); v != 1 {
		t.Errorf("scale_back counter = %v, want 1", v)
	}
}

func TestTick_MemoryAloneTriggersScaleBack(t *testing.T) {
	s := sampler.NewStatic(10, 90, 10)
	c := testController(t, config.Default(), s, nil)
	activate(t, c, model.RoleTaskManagement)

	if d := c.Tick(context.Background()); d.Action != model.ActionScaleBack {
		t.Fatalf("decision = %+v, want scale_back", d)
	}
}

func TestTick_OverThresholdNothingActive(t *testing.T) {
	c := testController(t, config.Default(), sampler.NewStatic(95, 95, 10), nil)
	if d := c.Tick(context.Background()); d.Action != model.ActionNone {
		t.Fatalf("decision = %+v, want none", d)
	}
}

// Scenario B: the highest-priority fitting role starts first.
func TestTick_ScaleUpHighestPriorityFirst(t *testing.T) {
	c := testController(t, config.Default(), sampler.NewStatic(30, 10, 10), nil)

	d := c.Tick(context.Background())
	if d.Action != model.ActionScaleUp || d.Role != model.RoleResourceManagement {
		t.Fatalf("decision = %+v, want scale_up resource_management", d)
	}
	if got := c.Active(); !slices.Equal(got, []model.RoleID{model.RoleResourceManagement}) {
		t.Errorf("active = %v", got)
	}
}

func TestTick_SkipsRolesThatDoNotFit(t *testing.T) {
	// 70+10 is not < 80, so project_management (9) is skipped for
	// task_management (8, cpu 5).
	c := testController(t, config.Default(), sampler.NewStatic(70, 10, 10), nil)
	activate(t, c, model.RoleResourceManagement)

	d := c.Tick(context.Background())
	if d.Action != model.ActionScaleUp || d.Role != model.RoleTaskManagement {
		t.Fatalf("decision = %+v, want scale_up task_management", d)
	}

	// Nothing else fits: remaining roles need more than 10% CPU headroom.
	if d := c.Tick(context.Background()); d.Action != model.ActionNone {
		t.Fatalf("decision = %+v, want none", d)
	}
}

func TestTick_AllActive(t *testing.T) {
	c := testController(t, config.Default(), sampler.NewStatic(1, 1, 1), nil)
	activate(t, c, model.AllRoles()...)
	d := c.Tick(context.Background())
	if d.Action != model.ActionNone || d.Reason != "all roles active" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestTick_SampleFailureIsNoSignal(t *testing.T) {
	s := sampler.NewStatic(1, 1, 1)
	s.Fail(errors.New("no sensors"))
	c := testController(t, config.Default(), s, nil)
	activate(t, c, model.RoleGUITesting)

	d := c.Tick(context.Background())
	if d.Action != model.ActionNone {
		t.Fatalf("decision = %+v, want none", d)
	}
	if len(c.Active()) != 1 {
		t.Error("active set changed on a failed sample")
	}
	if _, ok := c.LastSample(); ok {
		t.Error("failed sample recorded as last sample")
	}
}

// P1 and P2 over random samples and random starting sets.
func TestTick_PriorityAndSingleStepProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := config.Default()
	cat := config.NewCatalog(cfg)
	s := sampler.NewStatic(0, 0, 0)
	c := testController(t, cfg, s, nil)

	for i := 0; i < 200; i++ {
		cpu, mem := rng.Float64()*100, rng.Float64()*100
		s.Set(cpu, mem, 0)

		before := c.Active()
		d := c.Tick(context.Background())
		after := c.Active()

		added, removed := diff(before, after)
		if len(added)+len(removed) > 1 {
			t.Fatalf("tick %d changed %v / %v", i, added, removed)
		}

		switch d.Action {
		case model.ActionScaleUp:
			var want model.RoleID
			for _, id := range cat.ByPriorityDesc(model.AllRoles()) {
				spec, _ := cat.Get(id)
				if slices.Contains(before, id) {
					continue
				}
				if cpu+spec.EstimatedCPU < cfg.ResourceThresholds.CPUPercent &&
					mem+spec.EstimatedMemory < cfg.ResourceThresholds.MemoryPercent {
					want = id
					break
				}
			}
			if d.Role != want || !slices.Equal(added, []model.RoleID{want}) {
				t.Fatalf("tick %d started %s (added %v), want %s", i, d.Role, added, want)
			}
		case model.ActionScaleBack:
			want := cat.ByPriorityAsc(before)[0]
			if d.Role != want || !slices.Equal(removed, []model.RoleID{want}) {
				t.Fatalf("tick %d stopped %s (removed %v), want %s", i, d.Role, removed, want)
			}
		default:
			if len(added)+len(removed) != 0 {
				t.Fatalf("tick %d did nothing but set changed", i)
			}
		}
	}
}

func diff(before, after []model.RoleID) (added, removed []model.RoleID) {
	for _, r := range after {
		if !slices.Contains(before, r) {
			added = append(added, r)
		}
	}
	for _, r := range before {
		if !slices.Contains(after, r) {
			removed = append(removed, r)
		}
	}
	return added, removed
}

func TestTick_ForcedInactiveAfterStopTimeout(t *testing.T) {
	blocker := &blockingBehavior{started: make(chan struct{}), release: make(chan struct{})}
	f := &factory{override: map[model.RoleID]worker.Behavior{model.RoleAgentSimulations: blocker}}
	s := sampler.NewStatic(90, 10, 10)
	c := New(config.Default(), Options{
		Sampler:        s,
		Behaviors:      f.build,
		StopTimeout:    30 * time.Millisecond,
		DequeueTimeout: 5 * time.Millisecond,
	}, newTestLogger())

	activate(t, c, model.RoleAgentSimulations)
	c.Submit(context.Background(), model.RoleAgentSimulations, model.Task{Name: "long"})
	<-blocker.started

	d := c.Tick(context.Background())
	if d.Action != model.ActionScaleBack || !d.Forced {
		t.Fatalf("decision = %+v, want forced scale_back", d)
	}
	if len(c.Active()) != 0 {
		t.Fatalf("active = %v, want none", c.Active())
	}
	if v := metricValue(t, c.Registry(), "rolesched_stop_timeouts_total",
		map[string]string{"role": "agent_simulations"}); v != 1 {
		t.Errorf("stop timeouts = %v, want 1", v)
	}

	// While its old worker drains the role is not restarted.
	s.Set(1, 1, 1)
	for i := 0; i < len(model.AllRoles()); i++ {
		if d := c.Tick(context.Background()); d.Role == model.RoleAgentSimulations {
			t.Fatal("draining role restarted")
		}
	}
	var status model.RoleStatus
	for _, rs := range c.Status() {
		if rs.Role == model.RoleAgentSimulations {
			status = rs
		}
	}
	if status.Active || !status.StopRequested {
		t.Errorf("status = %+v, want inactive with stop requested", status)
	}

	close(blocker.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if d := c.Tick(context.Background()); d.Role == model.RoleAgentSimulations {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("role not restartable after its worker exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.StopAll()
}

func TestStartAll_SkipsDrainingRole(t *testing.T) {
	blocker := &blockingBehavior{started: make(chan struct{}), release: make(chan struct{})}
	f := &factory{override: map[model.RoleID]worker.Behavior{model.RoleResourceManagement: blocker}}
	s := sampler.NewStatic(10, 10, 10)
	cfg := config.Default()
	cfg.MonitoringInterval = 3600
	c := New(cfg, Options{
		Sampler:        s,
		Behaviors:      f.build,
		StopTimeout:    30 * time.Millisecond,
		StartStagger:   time.Millisecond,
		DequeueTimeout: 5 * time.Millisecond,
	}, newTestLogger())
	defer c.StopAll()
	defer close(blocker.release)

	if d := c.Tick(context.Background()); d.Role != model.RoleResourceManagement {
		t.Fatalf("first scale up = %+v, want %s", d, model.RoleResourceManagement)
	}
	c.Submit(context.Background(), model.RoleResourceManagement, model.Task{Name: "long"})
	<-blocker.started

	s.Set(95, 10, 10)
	if d := c.Tick(context.Background()); d.Action != model.ActionScaleBack || !d.Forced {
		t.Fatalf("decision = %+v, want forced scale_back", d)
	}

	s.Set(10, 10, 10)
	c.StartAll(context.Background())

	built := 0
	for _, r := range f.order() {
		if r == model.RoleResourceManagement {
			built++
		}
	}
	if built != 1 {
		t.Fatalf("%s workers built = %d, want 1 while the old one drains", model.RoleResourceManagement, built)
	}
	if slices.Contains(c.Active(), model.RoleResourceManagement) {
		t.Errorf("draining role reported active: %v", c.Active())
	}
}

func TestStartAll_RestartKeepsMonitor(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoringInterval = 3600
	c := testController(t, cfg, sampler.NewStatic(10, 10, 10), nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	c.StartAll(ctx1)
	c.StartAll(context.Background())

	monitorRunning := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.monitorStop != nil
	}
	if !monitorRunning() {
		t.Fatal("no monitor loop registered after a second StartAll")
	}
	// The first loop exits on its cancelled context; that must not clear the
	// second one.
	time.Sleep(20 * time.Millisecond)
	if !monitorRunning() {
		t.Error("monitor loop lost after a second StartAll")
	}
}

func TestStartAll_PriorityOrderAndStopAll(t *testing.T) {
	f := &factory{}
	cfg := config.Default()
	cfg.MonitoringInterval = 3600
	c := testController(t, cfg, sampler.NewStatic(10, 10, 10), f)

	c.StartAll(context.Background())

	want := []model.RoleID{
		model.RoleResourceManagement,
		model.RoleProjectManagement,
		model.RoleTaskManagement,
		model.RoleAgentSimulations,
		model.RoleScriptAssessment,
		model.RoleGUITesting,
	}
	if got := f.order(); !slices.Equal(got, want) {
		t.Fatalf("start order = %v, want %v", got, want)
	}
	if len(c.Active()) != len(want) {
		t.Fatalf("active = %v", c.Active())
	}
	if v := metricValue(t, c.Registry(), "rolesched_active_roles", nil); v != float64(len(want)) {
		t.Errorf("active gauge = %v", v)
	}

	c.StopAll()
	if len(c.Active()) != 0 {
		t.Fatalf("active after StopAll = %v", c.Active())
	}
	for _, rs := range c.Status() {
		if rs.Active {
			t.Errorf("%s still active", rs.Role)
		}
	}
}

func TestStartAll_StopAllInterrupts(t *testing.T) {
	f := &factory{}
	c := New(config.Default(), Options{
		Sampler:      sampler.NewStatic(10, 10, 10),
		Behaviors:    f.build,
		StartStagger: time.Hour,
	}, newTestLogger())

	done := make(chan struct{})
	go func() {
		c.StartAll(context.Background())
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.order()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first role never started")
		}
		time.Sleep(time.Millisecond)
	}

	c.StopAll()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartAll did not return after StopAll")
	}
	if len(c.Active()) != 0 {
		t.Errorf("active after StopAll = %v", c.Active())
	}
}

func TestStartStop_MonitorLoopTicks(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoringInterval = 0.01
	c := testController(t, cfg, sampler.NewStatic(10, 10, 10), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(c.Active()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("monitor loop did not start roles")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Start returned %v", err)
	}
	if _, ok := c.LastSample(); !ok {
		t.Error("no sample recorded")
	}
}

func TestSubmit_QueuesAndCounts(t *testing.T) {
	c := testController(t, config.Default(), sampler.NewStatic(10, 10, 10), nil)

	for _, name := range []string{"T1", "T2", "T3"} {
		if _, ok := c.Submit(context.Background(), model.RoleScriptAssessment, model.Task{Name: name}); !ok {
			t.Fatalf("Submit %s failed", name)
		}
	}
	if _, ok := c.Submit(context.Background(), "bogus", model.Task{Name: "x"}); ok {
		t.Error("Submit to unknown role succeeded")
	}

	for _, rs := range c.Status() {
		if rs.Role == model.RoleScriptAssessment && rs.QueueDepth != 3 {
			t.Errorf("queue depth = %d, want 3", rs.QueueDepth)
		}
	}
	if v := metricValue(t, c.Registry(), "rolesched_tasks_submitted_total",
		map[string]string{"role": "script_assessment"}); v != 3 {
		t.Errorf("submitted counter = %v, want 3", v)
	}
}

func TestUpdateConfig(t *testing.T) {
	c := testController(t, config.Default(), sampler.NewStatic(50, 10, 10), nil)
	activate(t, c, model.RoleGUITesting)

	cfg := config.Default()
	cfg.ResourceThresholds.CPUPercent = 40
	cfg.RolePriorities[model.RoleGUITesting] = 1
	c.UpdateConfig(cfg)

	if c.Priority(model.RoleGUITesting) != 1 {
		t.Errorf("priority = %d, want 1", c.Priority(model.RoleGUITesting))
	}
	if d := c.Tick(context.Background()); d.Action != model.ActionScaleBack {
		t.Fatalf("decision = %+v, want scale_back under the lowered threshold", d)
	}
}
