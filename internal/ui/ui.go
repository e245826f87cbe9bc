// Package ui serves a read-only HTML dashboard of roles, host load, and
// file tracker locks.
package ui

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/internal/tracker"
	"github.com/me/rolesched/pkg/model"
)

// Source is the controller state the dashboard renders.
type Source interface {
	Status() []model.RoleStatus
	LastSample() (model.ResourceSample, bool)
	Config() config.Config
}

// UI handles the web user interface.
type UI struct {
	src       Source
	inspector tracker.Inspector // optional
	logger    *slog.Logger
	startTime time.Time
}

// New creates a UI over src. inspector may be nil when file tracking is off.
func New(src Source, inspector tracker.Inspector, logger *slog.Logger) *UI {
	return &UI{
		src:       src,
		inspector: inspector,
		logger:    logger.With("component", "ui"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers the dashboard pages on r.
func (ui *UI) RegisterRoutes(r chi.Router) {
	r.Get("/", ui.HandleDashboard)
	r.Get("/locks", ui.HandleLocks)
}

// HandleDashboard renders host load against thresholds and the role table.
func (ui *UI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	statuses := ui.src.Status()
	active := 0
	for _, rs := range statuses {
		if rs.Active {
			active++
		}
	}

	data := map[string]any{
		"Title":       "Dashboard - rolesched",
		"Roles":       statuses,
		"ActiveCount": active,
		"Thresholds":  ui.src.Config().ResourceThresholds,
		"Uptime":      time.Since(ui.startTime).Round(time.Second).String(),
	}
	if s, ok := ui.src.LastSample(); ok {
		data["Sample"] = s
	}
	ui.render(w, http.StatusOK, "dashboard", data)
}

// HandleLocks renders the file tracker's locks and active workflows.
func (ui *UI) HandleLocks(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title":   "Locks - rolesched",
		"Enabled": ui.inspector != nil,
	}
	if ui.inspector != nil {
		locks, err := ui.inspector.Locks(r.Context())
		if err != nil {
			ui.renderError(w, "Failed to load locks", err)
			return
		}
		workflows, err := ui.inspector.ActiveWorkflows(r.Context())
		if err != nil {
			ui.renderError(w, "Failed to load workflows", err)
			return
		}
		data["Locks"] = locks
		data["Workflows"] = workflows
	}
	ui.render(w, http.StatusOK, "locks", data)
}

func (ui *UI) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	var buf bytes.Buffer
	if err := renderTemplate(&buf, name, data); err != nil {
		ui.logger.Error("template render failed", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (ui *UI) renderError(w http.ResponseWriter, message string, err error) {
	ui.logger.Error(message, "error", err)
	ui.render(w, http.StatusInternalServerError, "error", map[string]any{
		"Title":   "Error - rolesched",
		"Message": message,
	})
}
