package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/phase"
	"github.com/sdlc-agency/agency/internal/types"
)

func newPhaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Phase registry, transition policy and phase preparation",
	}
	cmd.AddCommand(
		newPhaseSequenceCmd(),
		newPhaseNextCmd(),
		newPhaseArtifactsCmd(),
		newPhaseInfoCmd(),
		newPhaseValidateArtifactsCmd(),
		newPhasePrepareCmd(),
	)
	return cmd
}

// projectRootFlag registers --project-root, defaulting to the working
// directory when unset.
func projectRootFlag(cmd *cobra.Command, root *string) {
	cmd.Flags().StringVar(root, "project-root", "", "Project root path (default: working directory)")
}

func projectRoot(root string) string {
	if root != "" {
		return root
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func newPhaseSequenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sequence",
		Short: "List the phases in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			phases := types.Phases()
			return outputJSON(cmd, map[string]interface{}{
				"phases": phases,
				"total":  len(phases),
			})
		},
	}
}

func newPhaseNextCmd() *cobra.Command {
	var current, verdict string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Decide the next phase from a gate verdict",
		Long: `Decide the next phase from a gate verdict.

For validate the verdict is "PM,TL", e.g. APPROVED,REPROVED.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := phase.NextPhase(phaseFlag(current), verdict)
			if err != nil {
				return err
			}
			return outputJSON(cmd, d)
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "Current phase name")
	cmd.Flags().StringVar(&verdict, "verdict", "", "Gate verdict(s)")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func newPhaseArtifactsCmd() *cobra.Command {
	var phaseName, root string
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Resolve a phase's artifact paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := phase.ResolveArtifacts(phaseFlag(phaseName), projectRoot(root))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	projectRootFlag(cmd, &root)
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newPhaseInfoCmd() *cobra.Command {
	var phaseName string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a phase's goal, gate and artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := phase.Lookup(phaseFlag(phaseName))
			if err != nil {
				return err
			}
			return outputJSON(cmd, info)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newPhaseValidateArtifactsCmd() *cobra.Command {
	var phaseName, root string
	cmd := &cobra.Command{
		Use:   "validate-artifacts",
		Short: "Check that a phase produced its artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := phase.ValidateArtifacts(cmd.Context(), phaseFlag(phaseName), projectRoot(root))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase to validate")
	projectRootFlag(cmd, &root)
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newPhasePrepareCmd() *cobra.Command {
	var (
		phaseName, root, statePath string
		backlogPath, scriptPath    string
		objective                  string
		objectiveStdin             bool
		skipAssists                bool
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Start a phase and return its agent waves with prompts",
		Long: `Check that the previous phase is completed, mark the phase in progress
and return the agents to spawn, wave by wave, with their prompts.

When the phase is blocked nothing is written and ready is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			obj, err := readObjective(cmd, objective, objectiveStdin)
			if err != nil {
				return err
			}
			models, err := loadModels()
			if err != nil {
				return err
			}
			res, err := agent.Prepare(cmd.Context(), openStore(statePath), phaseFlag(phaseName), agent.PrepareOptions{
				Input: agent.PromptInput{
					ProjectRoot: projectRoot(root),
					ScriptPath:  scriptPath,
					BacklogPath: resolveBacklogPath(backlogPath),
					Objective:   obj,
				},
				SkipAssists: skipAssists,
				Models:      models,
			})
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase to prepare")
	projectRootFlag(cmd, &root)
	cmd.Flags().StringVar(&statePath, "state-path", "", "Path to STATE.json (default from state.relative-path)")
	cmd.Flags().StringVar(&scriptPath, "script-path", "", "Backlog manager named in prompts (default: built-in story commands)")
	cmd.Flags().StringVar(&backlogPath, "backlog-path", "", "Path to backlog.json named in prompts")
	cmd.Flags().StringVar(&objective, "objective", "", "Project objective")
	cmd.Flags().BoolVar(&objectiveStdin, "objective-stdin", false, "Read the objective from stdin")
	cmd.Flags().BoolVar(&skipAssists, "skip-assists", false, "Only spawn lead agents")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
