// Package config loads agency settings through viper.
//
// Lookup order (first match wins):
//
//	--config flag (SetConfigFile before Initialize)
//	.agency/config.yaml in the working directory or any parent
//	$XDG_CONFIG_HOME/agency/config.yaml, then ~/.config/agency/config.yaml
//
// Environment variables with the AGENCY_ prefix override file values;
// "." and "-" in keys map to "_" (gate.max-iterations -> AGENCY_GATE_MAX_ITERATIONS).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys read by the commands.
const (
	KeyLockTimeout        = "lock-timeout"
	KeyBacklogTimeout     = "backlog.timeout"
	KeyBacklogInterpreter = "backlog.interpreter"
	KeyBacklogPath        = "backlog.relative-path"
	KeyStatePath          = "state.relative-path"
	KeyDecisionsPath      = "decisions.relative-path"
	KeyGateMaxIterations  = "gate.max-iterations"
	KeyAgentModelsFile    = "agents.models-file"
	KeyGuardsSoft         = "guards.soft"
	KeyGuardsDisabled     = "guards.disabled"

	KeyOTelEnabled         = "otel.enabled"
	KeyOTelStderr          = "otel.stderr"
	KeyOTelMetricsEndpoint = "otel.metrics-endpoint"
)

var (
	v          *viper.Viper
	configFile string
)

// SetConfigFile forces Initialize to read the given file instead of searching.
func SetConfigFile(path string) {
	configFile = path
}

// Initialize (re)creates the viper instance, registers defaults, binds the
// environment and reads the first config file found. A missing config file
// is not an error; an unreadable or malformed one is.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLockTimeout, 10*time.Second)
	v.SetDefault(KeyBacklogTimeout, 30*time.Second)
	v.SetDefault(KeyBacklogInterpreter, "python3")
	v.SetDefault(KeyBacklogPath, filepath.Join("agent_docs", "backlog", "backlog.json"))
	v.SetDefault(KeyStatePath, filepath.Join("agent_docs", "agency", "STATE.json"))
	v.SetDefault(KeyDecisionsPath, filepath.Join("docs", "DECISIONS.md"))
	v.SetDefault(KeyGateMaxIterations, 3)
	v.SetDefault(KeyAgentModelsFile, "")
	v.SetDefault(KeyGuardsSoft, []string{})
	v.SetDefault(KeyGuardsDisabled, []string{})
	v.SetDefault(KeyOTelEnabled, false)
	v.SetDefault(KeyOTelStderr, false)
	v.SetDefault(KeyOTelMetricsEndpoint, "")
}

func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		dir := cwd
		for {
			candidate := filepath.Join(dir, ".agency", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidate := filepath.Join(xdg, "agency", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "agency", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func ensure() *viper.Viper {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return v
}

// ConfigFileUsed returns the config file that was read, or "".
func ConfigFileUsed() string {
	return ensure().ConfigFileUsed()
}

func GetString(key string) string {
	return ensure().GetString(key)
}

func GetBool(key string) bool {
	return ensure().GetBool(key)
}

func GetInt(key string) int {
	return ensure().GetInt(key)
}

func GetDuration(key string) time.Duration {
	return ensure().GetDuration(key)
}

func GetStringSlice(key string) []string {
	return ensure().GetStringSlice(key)
}

// Set overrides a value for the rest of the process (flags, tests).
func Set(key string, value interface{}) {
	ensure().Set(key, value)
}

// ResetForTesting drops the viper instance and any forced config file.
func ResetForTesting() {
	v = nil
	configFile = ""
}
