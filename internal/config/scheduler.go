package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/rolesched/pkg/model"
)

// Thresholds are the usage percentages the controller keeps the host under.
type Thresholds struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Requirement is the estimated footprint of one role, in percent of the host.
type Requirement struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// Config is the on-disk scheduler configuration.
type Config struct {
	ResourceThresholds       Thresholds                   `json:"resource_thresholds"`
	RolePriorities           map[model.RoleID]int         `json:"role_priorities"`
	RoleResourceRequirements map[model.RoleID]Requirement `json:"role_resource_requirements"`
	MonitoringInterval       float64                      `json:"monitoring_interval"` // seconds
}

// Default returns the built-in role table and thresholds.
func Default() Config {
	return Config{
		ResourceThresholds: Thresholds{
			CPUPercent:    80,
			MemoryPercent: 85,
			DiskPercent:   90,
		},
		RolePriorities: map[model.RoleID]int{
			model.RoleResourceManagement: 10,
			model.RoleProjectManagement:  9,
			model.RoleTaskManagement:     8,
			model.RoleAgentSimulations:   7,
			model.RoleScriptAssessment:   6,
			model.RoleGUITesting:         5,
		},
		RoleResourceRequirements: map[model.RoleID]Requirement{
			model.RoleAgentSimulations:   {CPU: 60, Memory: 40},
			model.RoleProjectManagement:  {CPU: 10, Memory: 15},
			model.RoleResourceManagement: {CPU: 5, Memory: 10},
			model.RoleScriptAssessment:   {CPU: 20, Memory: 20},
			model.RoleGUITesting:         {CPU: 15, Memory: 25},
			model.RoleTaskManagement:     {CPU: 5, Memory: 10},
		},
		MonitoringInterval: 5,
	}
}

// Interval returns MonitoringInterval as a duration, falling back to 5s.
func (c Config) Interval() time.Duration {
	if c.MonitoringInterval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MonitoringInterval * float64(time.Second))
}

// Parse decodes data on top of the defaults, so fields absent from the file
// keep their default values. Unknown role names are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	for r := range cfg.RolePriorities {
		if !r.Valid() {
			return Default(), fmt.Errorf("role_priorities: unknown role %q", r)
		}
	}
	for r := range cfg.RoleResourceRequirements {
		if !r.Valid() {
			return Default(), fmt.Errorf("role_resource_requirements: unknown role %q", r)
		}
	}
	return cfg, nil
}

// Load reads the scheduler config at path. It never fails: a missing file is
// replaced by the defaults written to disk, and a malformed file is moved
// aside to <path>.bad before the defaults are written in its place.
func Load(path string, logger *slog.Logger) Config {
	logger = logger.With("component", "config")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, perr := Parse(data)
		if perr == nil {
			logger.Info("loaded configuration", "path", path)
			return cfg
		}
		logger.Error("malformed configuration, using defaults", "path", path, "error", perr)
		if rerr := os.Rename(path, path+".bad"); rerr != nil {
			logger.Warn("could not move malformed configuration aside", "path", path, "error", rerr)
			return Default()
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.Error("read configuration, using defaults", "path", path, "error", err)
		return Default()
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		logger.Error("write default configuration", "path", path, "error", err)
	} else {
		logger.Info("created default configuration", "path", path)
	}
	return cfg
}

// Save writes cfg to path as indented JSON. The write goes through a temp
// file and rename so readers never see a partial file.
func Save(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rolesched-config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Marshal encodes cfg the way Save writes it. Map keys are sorted by
// encoding/json, so the output is stable.
func Marshal(cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append(data, '\n'), nil
}
