package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/decision"
)

func newDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Record and look up architectural decisions (DEC-NNN) in DECISIONS.md",
	}

	var path string
	cmd.PersistentFlags().StringVar(&path, "decisions-path", "", "Path to DECISIONS.md (default from decisions.relative-path)")

	cmd.AddCommand(
		newDecisionAddCmd(&path),
		newDecisionListCmd(&path),
		newDecisionGetCmd(&path),
		newDecisionSummaryCmd(&path),
	)
	return cmd
}

func openDecisions(path string) *decision.Log {
	path = resolveDecisionsPath(path)
	debug.Logf("decisions: %s\n", path)
	return decision.NewLog(path, config.GetDuration(config.KeyLockTimeout))
}

func newDecisionAddCmd(path *string) *cobra.Command {
	var req decision.AddRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a decision with the next DEC id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openDecisions(*path).Add(cmd.Context(), req)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&req.Phase, "phase", "", "Phase the decision was made in")
	cmd.Flags().StringVar(&req.Agent, "agent", "", "Role that made the decision (pm, po, tl, dev, qa)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Short title")
	cmd.Flags().StringVar(&req.Context, "context", "", "Why a decision was needed")
	cmd.Flags().StringVar(&req.Alternatives, "alternatives", "", "Alternatives considered")
	cmd.Flags().StringVar(&req.Decision, "decision", "", "What was decided")
	cmd.Flags().StringVar(&req.Impact, "impact", "", "Consequences")
	for _, f := range []string{"phase", "agent", "title", "context"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDecisionListCmd(path *string) *cobra.Command {
	var phaseName, agentName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions, optionally filtered by phase and agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openDecisions(*path).List(phaseName, agentName)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Only decisions from this phase")
	cmd.Flags().StringVar(&agentName, "agent", "", "Only decisions by this role")
	return cmd
}

func newDecisionGetCmd(path *string) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := openDecisions(*path).Get(id)
			if err != nil {
				return err
			}
			return outputJSON(cmd, d)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Decision id, e.g. DEC-001")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDecisionSummaryCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count decisions per phase and agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openDecisions(*path).Summarize()
			if err != nil {
				return err
			}
			return outputJSON(cmd, s)
		},
	}
}
