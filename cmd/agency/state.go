package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Read and update STATE.json",
	}

	var statePath string
	cmd.PersistentFlags().StringVar(&statePath, "state-path", "", "Path to STATE.json (default from state.relative-path)")

	cmd.AddCommand(
		newStateInitCmd(&statePath),
		newStateUpdateCmd(&statePath),
		newStateGateRecordCmd(&statePath),
		newStateQueryCmd(&statePath),
		newStateCanProceedCmd(&statePath),
		newStateSummaryCmd(&statePath),
	)
	return cmd
}

func newStateInitCmd(statePath *string) *cobra.Command {
	var project, objective string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create STATE.json with all phases pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(*statePath).Init(cmd.Context(), project, objective)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&objective, "objective", "", "Project objective")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("objective")
	return cmd
}

func newStateUpdateCmd(statePath *string) *cobra.Command {
	var phaseName, status, agentName, agentStatus, notes string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Set a phase status, optionally recording an agent and notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(*statePath).UpdatePhase(cmd.Context(), state.UpdateRequest{
				Phase:       phaseFlag(phaseName),
				Status:      types.PhaseStatus(strings.ToLower(strings.TrimSpace(status))),
				Agent:       agentName,
				AgentStatus: agentStatus,
				Notes:       notes,
			})
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&status, "status", "", "Status: pending|in_progress|completed|skipped")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name")
	cmd.Flags().StringVar(&agentStatus, "agent-status", "", "Agent status")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes for the phase")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newStateGateRecordCmd(statePath *string) *cobra.Command {
	var (
		phaseName, verdict, pm, tl string
		passed, failed             int
	)
	cmd := &cobra.Command{
		Use:   "gate-record",
		Short: "Append a gate verdict and bump the iteration counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := state.GateRequest{
				Phase:   phaseFlag(phaseName),
				Verdict: types.ParseVerdict(verdict),
				PM:      types.ParseVerdict(pm),
				TL:      types.ParseVerdict(tl),
			}
			if cmd.Flags().Changed("tests-passed") {
				req.TestsPassed = &passed
			}
			if cmd.Flags().Changed("tests-failed") {
				req.TestsFailed = &failed
			}
			res, err := openStore(*statePath).RecordGate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Gate phase: validate|review|test")
	cmd.Flags().StringVar(&verdict, "verdict", "", "Verdict (review: PASS|FAIL, test: PASS|FAIL_BUG|FAIL_TEST)")
	cmd.Flags().StringVar(&pm, "pm", "", "PM verdict (validate)")
	cmd.Flags().StringVar(&tl, "tl", "", "TL verdict (validate)")
	cmd.Flags().IntVar(&passed, "tests-passed", 0, "Number of tests passed")
	cmd.Flags().IntVar(&failed, "tests-failed", 0, "Number of tests failed")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newStateQueryCmd(statePath *string) *cobra.Command {
	var phaseName, field string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the state document, one phase, or one top-level field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(*statePath).Query(cmd.Context(), phaseFlag(phaseName), field)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name to query")
	cmd.Flags().StringVar(&field, "field", "", "Top-level field to query")
	return cmd
}

func newStateCanProceedCmd(statePath *string) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "can-proceed",
		Short: "Check whether a phase's dependency and gate allow it to start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(*statePath).CanProceed(cmd.Context(), phaseFlag(to))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&to, "to-phase", "", "Target phase")
	_ = cmd.MarkFlagRequired("to-phase")
	return cmd
}

func newStateSummaryCmd(statePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize phase progress and gate iterations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(*statePath).Summary(cmd.Context())
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
}
