package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/pipeline"
	"github.com/sdlc-agency/agency/internal/types"
)

func newPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Group stories into parallel feature pipelines",
	}
	cmd.AddCommand(
		newPipelineGroupCmd(),
		newPipelineAgentsCmd(),
		newPipelineStatusCmd(),
		newPipelineReadyForCmd(),
		newPipelineUpdateCmd(),
	)
	return cmd
}

func newPipelineGroupCmd() *cobra.Command {
	var (
		bf     backlogFlags
		status string
	)
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group stories by feature area into dependency waves",
		Long: `Group stories by feature area into dependency waves.

A feature depends on another when one of its stories depends on a story of
that feature. Wave 1 holds the features with no dependencies; features in a
cycle are reported in unassigned_features.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := pipeline.Analyze(cmd.Context(), bf.client(), types.StoryStatus(status))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&status, "status", string(types.StatusValidated), "Story status to group")
	return cmd
}

func newPipelineAgentsCmd() *cobra.Command {
	var (
		bf                 backlogFlags
		phaseName, feature string
		root, objective    string
		objectiveStdin     bool
	)
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Agent names and prompts for one feature pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			obj, err := readObjective(cmd, objective, objectiveStdin)
			if err != nil {
				return err
			}
			models, err := loadModels()
			if err != nil {
				return err
			}
			c := bf.client()
			in := agent.PromptInput{
				ProjectRoot: projectRoot(root),
				ScriptPath:  bf.scriptPath,
				BacklogPath: c.BacklogPath(),
				Objective:   obj,
			}
			res, err := pipeline.Agents(cmd.Context(), c, phaseFlag(phaseName), feature, in, models)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	projectRootFlag(cmd, &root)
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&feature, "feature", "", "Feature area")
	cmd.Flags().StringVar(&objective, "objective", "", "Project objective")
	cmd.Flags().BoolVar(&objectiveStdin, "objective-stdin", false, "Read the objective from stdin")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("feature")
	return cmd
}

func newPipelineStatusCmd() *cobra.Command {
	var statePath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the feature pipelines recorded in STATE.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := openStore(statePath).PipelineStatus(cmd.Context())
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&statePath, "state-path", "", "Path to STATE.json (default from state.relative-path)")
	return cmd
}

func newPipelineReadyForCmd() *cobra.Command {
	var (
		bf        backlogFlags
		phaseName string
	)
	cmd := &cobra.Command{
		Use:   "ready-for",
		Short: "Stories ready for review or test, grouped by feature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := pipeline.ReadyFor(cmd.Context(), bf.client(), phaseFlag(phaseName))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&phaseName, "phase", "", "review|test")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newPipelineUpdateCmd() *cobra.Command {
	var statePath, feature, status, branch string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Record the status of a feature pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if branch == "" {
				branch = pipeline.BranchName(feature)
			}
			res, err := openStore(statePath).UpsertPipeline(cmd.Context(), feature, status, branch)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&statePath, "state-path", "", "Path to STATE.json (default from state.relative-path)")
	cmd.Flags().StringVar(&feature, "feature", "", "Feature area")
	cmd.Flags().StringVar(&status, "status", "", "pending|in_progress|completed|failed")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (default: feat/<feature>)")
	_ = cmd.MarkFlagRequired("feature")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}
