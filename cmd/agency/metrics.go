package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/report"
	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Report phase timing, gate iterations and story progress",
	}

	var statePath string
	cmd.PersistentFlags().StringVar(&statePath, "state-path", "", "Path to STATE.json (default from state.relative-path)")

	cmd.AddCommand(
		newMetricsDashboardCmd(&statePath),
		newMetricsPhaseCmd(&statePath),
		newMetricsStoriesCmd(),
		newMetricsExportCmd(&statePath),
	)
	return cmd
}

func loadDocument(ctx context.Context, statePath string) (*state.Document, error) {
	return openStore(statePath).Snapshot(ctx)
}

func newMetricsDashboardCmd(statePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Progress, timing and gate figures for the whole project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := loadDocument(cmd.Context(), *statePath)
			if err != nil {
				return err
			}
			return outputJSON(cmd, report.BuildDashboard(doc))
		},
	}
}

func newMetricsPhaseCmd(statePath *string) *cobra.Command {
	var phaseName string
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Timing, agents and gate outcome of one phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := types.ParsePhase(phaseName)
			if err != nil {
				return err
			}
			doc, err := loadDocument(cmd.Context(), *statePath)
			if err != nil {
				return err
			}
			detail, err := report.BuildPhase(doc, p)
			if err != nil {
				return err
			}
			return outputJSON(cmd, detail)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newMetricsStoriesCmd() *cobra.Command {
	var bf backlogFlags
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Story counts by status and priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := report.Stories(cmd.Context(), bf.client())
			if err != nil {
				return err
			}
			return outputJSON(cmd, m)
		},
	}
	bf.register(cmd)
	return cmd
}

// hasBacklog reports whether export should read stories: either flag was
// given or the default backlog file exists.
func (f *backlogFlags) hasBacklog() bool {
	if f.backlogPath != "" || f.scriptPath != "" {
		return true
	}
	exists, _ := utils.IsNonEmpty(resolveBacklogPath(""), false)
	return exists
}

func newMetricsExportCmd(statePath *string) *cobra.Command {
	var (
		bf     backlogFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Full metrics report as JSON or markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			doc, err := loadDocument(cmd.Context(), *statePath)
			if err != nil {
				return err
			}
			var stories *report.StoryMetrics
			if bf.hasBacklog() {
				if stories, err = report.Stories(cmd.Context(), bf.client()); err != nil {
					return err
				}
			}
			if f == report.FormatJSON {
				return outputJSON(cmd, report.Export(doc, stories))
			}
			md, err := report.Markdown(doc, stories)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(md))
			return err
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&format, "format", "", "Output format: json or markdown")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}
