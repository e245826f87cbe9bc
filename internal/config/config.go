package config

import (
	"os"
	"path/filepath"
)

// DaemonConfig holds process-level configuration for the rolesched daemon.
type DaemonConfig struct {
	Addr        string // Listen address for the status/submission API (default "127.0.0.1:8090")
	LogLevel    string // Log level: debug, info, warn, error
	LogFormat   string // Log format: text, json
	LogFile     string // Optional log file, written in addition to stderr
	ConfigPath  string // Scheduler config JSON (default <BaseDir>/parallel_execution_config.json)
	BaseDir     string // Project root scanned by the idle behaviours (default ".")
	TrackerDB   string // File tracker SQLite path ("" for ~/.rolesched/tracker.db, "off" disables tracking)
	Interpreter string // Interpreter used to run task scripts (default "python3")
	DiskPath    string // Filesystem sampled for disk usage (default "/")
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Addr:        "127.0.0.1:8090",
		LogLevel:    "info",
		LogFormat:   "text",
		BaseDir:     ".",
		Interpreter: "python3",
		DiskPath:    "/",
	}
}

// DefaultConfigFile is the scheduler config file name inside BaseDir.
const DefaultConfigFile = "parallel_execution_config.json"

// ResolveConfigPath returns ConfigPath, or the default file under BaseDir.
func (c DaemonConfig) ResolveConfigPath() string {
	if c.ConfigPath != "" {
		return c.ConfigPath
	}
	return filepath.Join(c.BaseDir, DefaultConfigFile)
}

// ResolveTrackerDB returns TrackerDB, defaulting to ~/.rolesched/tracker.db.
// The literal "off" disables tracking and yields "".
func (c DaemonConfig) ResolveTrackerDB() (string, error) {
	switch c.TrackerDB {
	case "off":
		return "", nil
	case "":
	default:
		return c.TrackerDB, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".rolesched")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "tracker.db"), nil
}
