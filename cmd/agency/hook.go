package main

import (
	"bytes"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/guard"
)

// hookBlockedExit is the exit status that tells the agent runtime to
// refuse the tool call.
const hookBlockedExit = 2

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "PreToolUse guards for agent tool calls",
	}
	cmd.AddCommand(newHookCheckCmd(), newHookListCmd())
	return cmd
}

// configuredGuards returns the built-in guards with guards.soft and
// guards.disabled applied.
func configuredGuards() (*guard.Registry, error) {
	reg := guard.Builtin()
	if err := reg.Configure(config.GetStringSlice(config.KeyGuardsSoft), config.GetStringSlice(config.KeyGuardsDisabled)); err != nil {
		return nil, err
	}
	return reg, nil
}

func newHookCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a hook payload read from stdin",
		Long: `Evaluate a PreToolUse hook payload read from stdin.

Exit status 0 allows the tool call. When a strict guard fails the reason is
written to stderr and the exit status is 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readStdin(cmd, "hook check")
			if err != nil {
				return err
			}
			in, err := guard.ParseInput(bytes.NewReader(payload))
			if err != nil {
				return err
			}
			reg, err := configuredGuards()
			if err != nil {
				return err
			}
			resp := guard.Evaluate(cmd.Context(), &guard.Context{
				Input:    in,
				WorkDir:  in.Cwd,
				StateRel: config.GetString(config.KeyStatePath),
			}, reg)
			for _, w := range resp.Warnings {
				debug.Warnf("guard warning: %s", w)
			}
			if asJSON {
				if err := outputJSON(cmd, resp); err != nil {
					return err
				}
			}
			if resp.Blocked() {
				msg := resp.Message
				if msg != "" && !strings.HasSuffix(msg, "\n") {
					msg += "\n"
				}
				return &exitErr{code: hookBlockedExit, msg: msg}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Also print the decision as JSON on stdout")
	return cmd
}

// guardInfo is the listing view of a guard.
type guardInfo struct {
	ID          string     `json:"id"`
	Tool        string     `json:"tool"`
	Mode        guard.Mode `json:"mode"`
	Description string     `json:"description"`
}

func newHookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active guards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := configuredGuards()
			if err != nil {
				return err
			}
			out := []guardInfo{}
			for _, g := range reg.All() {
				out = append(out, guardInfo{ID: g.ID, Tool: g.Tool, Mode: g.Mode, Description: g.Description})
			}
			return outputJSON(cmd, out)
		},
	}
}
