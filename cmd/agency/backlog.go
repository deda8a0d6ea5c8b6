package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

func newBacklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Phase-level backlog orchestration",
		Long: `Phase-level backlog orchestration.

Operations that touch stories go through the built-in story store, or
through an external backlog manager when --script-path is given.`,
	}
	cmd.AddCommand(
		newBacklogValidateTransitionCmd(),
		newBacklogExpectedStatusCmd(),
		newBacklogPhaseTransitionCmd(),
		newBacklogBatchCreateCmd(),
		newBacklogQueryCmd(),
		newBacklogQueryProfileCmd(),
		newBacklogResolveDependenciesCmd(),
	)
	return cmd
}

func newBacklogValidateTransitionCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "validate-transition",
		Short: "Check whether a story status move is legal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return outputJSON(cmd, backlog.ValidateTransition(types.StoryStatus(from), types.StoryStatus(to)))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Current story status")
	cmd.Flags().StringVar(&to, "to", "", "Target story status")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBacklogExpectedStatusCmd() *cobra.Command {
	var phaseName string
	cmd := &cobra.Command{
		Use:   "expected-status",
		Short: "Show the story status movement a phase performs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := backlog.ExpectedStatus(phaseFlag(phaseName))
			if err != nil {
				return err
			}
			return outputJSON(cmd, m)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newBacklogPhaseTransitionCmd() *cobra.Command {
	var (
		bf        backlogFlags
		phaseName string
		caller    string
	)
	cmd := &cobra.Command{
		Use:   "phase-transition",
		Short: "Move every story in a phase's source status to its target status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := types.ParseRole(caller)
			if err != nil {
				return err
			}
			res, err := backlog.PhaseTransition(cmd.Context(), bf.client(), phaseFlag(phaseName), role)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&caller, "caller", "", "Calling role: pm|po|tl|dev|qa")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newBacklogBatchCreateCmd() *cobra.Command {
	var (
		bf     backlogFlags
		caller string
		input  string
	)
	cmd := &cobra.Command{
		Use:   "batch-create",
		Short: "Create stories from a JSON array file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := types.ParseRole(caller)
			if err != nil {
				return err
			}
			stories, err := backlog.ReadBatchFile(input)
			if err != nil {
				return err
			}
			res, err := backlog.BatchCreate(cmd.Context(), bf.client(), role, stories)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&caller, "caller", "", "Calling role: po|pm")
	cmd.Flags().StringVar(&input, "input", "", "JSON file with an array of stories")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newBacklogQueryCmd() *cobra.Command {
	var (
		bf        backlogFlags
		phaseName string
		profile   string
		status    string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List a phase's stories through a query profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := backlog.Query(cmd.Context(), bf.client(), phaseFlag(phaseName), profile, types.StoryStatus(status))
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile: minimal|full|audit|ids|ac|progress")
	cmd.Flags().StringVar(&status, "status", "", "Override the phase's status filter")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func newBacklogQueryProfileCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "query-profile",
		Short: "Show the fields and format of a query profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := backlog.LookupProfile(profile)
			if err != nil {
				return err
			}
			return outputJSON(cmd, p)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Profile name")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func newBacklogResolveDependenciesCmd() *cobra.Command {
	var (
		bf backlogFlags
		id string
	)
	cmd := &cobra.Command{
		Use:   "resolve-dependencies",
		Short: "Order stories so dependencies come first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := backlog.ResolveDependencies(cmd.Context(), bf.client(), id)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Only order this story and its transitive dependencies")
	return cmd
}
