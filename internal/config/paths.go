package config

import (
	"os"
	"path/filepath"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for an Orbit instance.
type InstancePaths struct {
	Home      string // Instance home directory
	Discovery string // Discovery file advertising port and protocol version
	Trust     string // Trust store file (identity -> token/permissions)
	Lock      string // Daemon lock file path
	Logs      string // Logs directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetOrbitHome(), "instances", instanceName)

	return InstancePaths{
		Home:      instanceDir,
		Discovery: filepath.Join(instanceDir, "discovery.json"),
		Trust:     filepath.Join(instanceDir, "trust.json"),
		Lock:      filepath.Join(instanceDir, "daemon.lock"),
		Logs:      filepath.Join(instanceDir, "logs"),
	}
}

// GetOrbitHome returns the Orbit home directory. ORBIT_HOME overrides the
// default of ~/.orbit, which keeps tests and multi-user setups isolated.
func GetOrbitHome() string {
	if custom := os.Getenv("ORBIT_HOME"); custom != "" {
		return custom
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".orbit")
}

// EnsureInstanceDirs creates the directory structure for the given instance
// if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	dirs := []string{
		paths.Home,
		paths.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
