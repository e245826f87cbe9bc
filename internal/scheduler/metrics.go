package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/rolesched/pkg/model"
)

// Metrics are the controller's Prometheus collectors.
type Metrics struct {
	ScaleActions    *prometheus.CounterVec
	StopTimeouts    *prometheus.CounterVec
	ActiveRoles     prometheus.Gauge
	ResourcePercent *prometheus.GaugeVec
	Tasks           *prometheus.CounterVec
	TasksSubmitted  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScaleActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesched_scale_actions_total",
			Help: "Roles started or stopped by the admission controller.",
		}, []string{"action", "role"}),
		StopTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesched_stop_timeouts_total",
			Help: "Roles marked inactive before their worker exited.",
		}, []string{"role"}),
		ActiveRoles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rolesched_active_roles",
			Help: "Number of roles currently active.",
		}),
		ResourcePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rolesched_resource_percent",
			Help: "Most recent host resource usage sample.",
		}, []string{"resource"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesched_tasks_total",
			Help: "Tasks handled by role workers, by result.",
		}, []string{"role", "result"}),
		TasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rolesched_tasks_submitted_total",
			Help: "Tasks accepted into role queues.",
		}, []string{"role"}),
	}
	reg.MustRegister(m.ScaleActions, m.StopTimeouts, m.ActiveRoles, m.ResourcePercent, m.Tasks, m.TasksSubmitted)
	return m
}

func (m *Metrics) observeSample(s model.ResourceSample) {
	m.ResourcePercent.WithLabelValues("cpu").Set(s.CPUPercent)
	m.ResourcePercent.WithLabelValues("memory").Set(s.MemPercent)
	m.ResourcePercent.WithLabelValues("disk").Set(s.DiskPercent)
}

func (m *Metrics) observeTask(role model.RoleID, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Tasks.WithLabelValues(string(role), result).Inc()
}
