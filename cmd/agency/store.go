package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/telemetry"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// defaultPath resolves rel against the nearest ancestor of the working
// directory that already contains it, or against the working directory.
func defaultPath(rel string) string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	if root := utils.FindUp(wd, rel); root != "" {
		return filepath.Join(root, rel)
	}
	return filepath.Join(wd, rel)
}

func resolveStatePath(path string) string {
	if path == "" {
		path = defaultPath(config.GetString(config.KeyStatePath))
	}
	return utils.CanonicalizePath(path)
}

func resolveDecisionsPath(path string) string {
	if path == "" {
		path = defaultPath(config.GetString(config.KeyDecisionsPath))
	}
	return utils.CanonicalizePath(path)
}

func resolveBacklogPath(path string) string {
	if path == "" {
		path = defaultPath(config.GetString(config.KeyBacklogPath))
	}
	return utils.CanonicalizePath(path)
}

// openStore returns the state store for path, decorated with telemetry.
func openStore(path string) state.Machine {
	path = resolveStatePath(path)
	debug.Logf("state: %s\n", path)
	return telemetry.WrapMachine(state.NewStore(path,
		state.WithLockTimeout(config.GetDuration(config.KeyLockTimeout)),
		state.WithMaxIterations(config.GetInt(config.KeyGateMaxIterations)),
	))
}

func openBacklogStore(path string) *backlog.Store {
	path = resolveBacklogPath(path)
	debug.Logf("backlog: %s\n", path)
	return backlog.NewStore(path, config.GetDuration(config.KeyLockTimeout))
}

// backlogFlags select the backlog collaborator: the in-process store, or
// an external backlog manager when --script-path is set.
type backlogFlags struct {
	backlogPath string
	scriptPath  string
}

func (f *backlogFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backlogPath, "backlog-path", "", "Path to backlog.json (default from backlog.relative-path)")
	cmd.Flags().StringVar(&f.scriptPath, "script-path", "", "External backlog manager to run instead of the built-in store")
}

func (f *backlogFlags) client() backlog.Client {
	var c backlog.Client
	if f.scriptPath != "" {
		c = backlog.NewExecClient(f.scriptPath,
			config.GetString(config.KeyBacklogInterpreter),
			resolveBacklogPath(f.backlogPath),
			config.GetDuration(config.KeyBacklogTimeout))
		debug.Logf("backlog: delegating to %s\n", f.scriptPath)
	} else {
		c = backlog.NewLocalClient(openBacklogStore(f.backlogPath))
	}
	return telemetry.WrapClient(c)
}

func loadModels() (agent.Models, error) {
	return agent.LoadModels(config.GetString(config.KeyAgentModelsFile))
}

// phaseFlag normalizes a --phase value; validation is left to the callee so
// each operation reports its own error.
func phaseFlag(s string) types.Phase {
	return types.Phase(strings.ToLower(strings.TrimSpace(s)))
}
