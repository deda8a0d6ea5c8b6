package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

// The story commands operate on one backlog.json, named by the optional
// positional argument and otherwise resolved from backlog.relative-path.

func newStoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Create, edit and list backlog stories",
		Long: `Create, edit and list backlog stories.

Each command takes the backlog.json path as its optional argument. Mutations
are permission checked against --caller and recorded in the story history.`,
	}
	cmd.AddCommand(
		newStoryInitCmd(),
		newStoryCreateCmd(),
		newStoryEditCmd(),
		newStoryStatusCmd(),
		newStoryListCmd(),
		newStoryGetCmd(),
		newStoryDeleteCmd(),
		newStoryStatsCmd(),
		newStoryNextIDCmd(),
		newStoryQuestionCmd(),
		newStoryRenderCmd(),
	)
	return cmd
}

func storeFromArgs(args []string) *backlog.Store {
	if len(args) > 0 {
		return openBacklogStore(args[0])
	}
	return openBacklogStore("")
}

func parseAC(s string) ([]backlog.AcceptanceCriterion, error) {
	var ac []backlog.AcceptanceCriterion
	if err := json.Unmarshal([]byte(s), &ac); err != nil {
		return nil, types.ParseErrorf("--ac must be a JSON array of acceptance criteria: %v", err)
	}
	return ac, nil
}

func parseCaller(caller string) (types.Role, error) {
	r, err := types.ParseRole(caller)
	if err != nil {
		return "", fmt.Errorf("--caller: %w", err)
	}
	return r, nil
}

func newStoryInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [backlog.json]",
		Short: "Create an empty backlog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := storeFromArgs(args).Init(cmd.Context())
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
}

func newStoryCreateCmd() *cobra.Command {
	var (
		req                       backlog.CreateRequest
		priority, caller, ac, dep string
	)
	cmd := &cobra.Command{
		Use:   "create [backlog.json]",
		Short: "Add a Draft story (po, pm)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseCaller(caller)
			if err != nil {
				return err
			}
			req.Caller = role
			req.Priority = types.Priority(priority)
			req.Depends = backlog.SplitIDs(dep)
			if ac != "" {
				if req.AC, err = parseAC(ac); err != nil {
					return err
				}
			}
			res, err := storeFromArgs(args).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "Story id (US-NNN)")
	f.StringVar(&req.Title, "title", "", "Story title")
	f.StringVar(&req.Role, "role", "", "As a <role>")
	f.StringVar(&req.Want, "want", "", "I want <want>")
	f.StringVar(&req.Benefit, "benefit", "", "So that <benefit>")
	f.StringVar(&req.Feature, "feature", "", "Feature area")
	f.StringVar(&priority, "priority", "", "Must|Should|Could|Won't")
	f.StringVar(&req.Notes, "notes", "", "Notes")
	f.StringVar(&ac, "ac", "", "JSON array of acceptance criteria")
	f.StringVar(&dep, "depends", "", "Comma-separated story ids")
	f.StringVar(&caller, "caller", "", "Calling role")
	for _, name := range []string{"id", "title", "role", "want", "benefit", "feature", "priority", "caller"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newStoryEditCmd() *cobra.Command {
	var (
		id, caller                                string
		title, role, want, benefit, notes, feature string
		priority, ac, dep                         string
	)
	cmd := &cobra.Command{
		Use:   "edit [backlog.json]",
		Short: "Change story fields (po, pm, tl)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseCaller(caller)
			if err != nil {
				return err
			}
			req := backlog.EditRequest{ID: id, Caller: r}
			changed := cmd.Flags().Changed
			for name, dst := range map[string]**string{
				"title": &req.Title, "role": &req.Role, "want": &req.Want,
				"benefit": &req.Benefit, "notes": &req.Notes, "feature": &req.Feature,
			} {
				if changed(name) {
					v, _ := cmd.Flags().GetString(name)
					*dst = &v
				}
			}
			if changed("priority") {
				p := types.Priority(priority)
				req.Priority = &p
			}
			if changed("ac") {
				list, err := parseAC(ac)
				if err != nil {
					return err
				}
				req.AC = &list
			}
			if changed("depends") {
				ids := backlog.SplitIDs(dep)
				req.Depends = &ids
			}
			res, err := storeFromArgs(args).Edit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "Story id")
	f.StringVar(&caller, "caller", "", "Calling role")
	f.StringVar(&title, "title", "", "New title")
	f.StringVar(&role, "role", "", "New role")
	f.StringVar(&want, "want", "", "New want")
	f.StringVar(&benefit, "benefit", "", "New benefit")
	f.StringVar(&priority, "priority", "", "New priority")
	f.StringVar(&notes, "notes", "", "New notes")
	f.StringVar(&feature, "feature", "", "New feature area")
	f.StringVar(&ac, "ac", "", "New acceptance criteria (JSON array)")
	f.StringVar(&dep, "depends", "", "New comma-separated dependencies")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newStoryStatusCmd() *cobra.Command {
	var id, status, caller string
	cmd := &cobra.Command{
		Use:   "status [backlog.json]",
		Short: "Set a story status",
		Long: `Set a story status.

Only membership in the status list is checked. Use
"agency backlog validate-transition" to check the move itself.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseCaller(caller)
			if err != nil {
				return err
			}
			res, err := storeFromArgs(args).SetStatus(cmd.Context(), id, types.StoryStatus(status), r)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Story id")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&caller, "caller", "", "Calling role")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newStoryListCmd() *cobra.Command {
	var (
		opts                      backlog.ListOptions
		status, priority, fields string
	)
	cmd := &cobra.Command{
		Use:   "list [backlog.json]",
		Short: "List stories with filters, projection and pagination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = types.StoryStatus(status)
			opts.Priority = types.Priority(priority)
			if fields != "" {
				for _, f := range strings.Split(fields, ",") {
					if f = strings.TrimSpace(f); f != "" {
						opts.Fields = append(opts.Fields, f)
					}
				}
			}
			res, err := storeFromArgs(args).List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if opts.Format == backlog.FormatTable {
				cols := opts.Fields
				if len(cols) == 0 {
					cols = backlog.DefaultTableFields
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), backlog.RenderTable(res.Stories, cols))
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "Filter by status")
	f.StringVar(&opts.Feature, "feature", "", "Filter by feature area")
	f.StringVar(&priority, "priority", "", "Filter by priority")
	f.StringVar(&opts.Format, "format", backlog.FormatSummary, "Output format: json|table|summary")
	f.StringVar(&fields, "fields", "", "Comma-separated fields to return")
	f.IntVar(&opts.Limit, "limit", 0, "Maximum stories to return")
	f.IntVar(&opts.Offset, "offset", 0, "Skip the first N stories")
	return cmd
}

func newStoryGetCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get [backlog.json]",
		Short: "Show one story",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := storeFromArgs(args).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return outputJSON(cmd, st)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Story id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newStoryDeleteCmd() *cobra.Command {
	var id, caller string
	cmd := &cobra.Command{
		Use:   "delete [backlog.json]",
		Short: "Remove a story (po, pm)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseCaller(caller)
			if err != nil {
				return err
			}
			res, err := storeFromArgs(args).Delete(cmd.Context(), id, r)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Story id")
	cmd.Flags().StringVar(&caller, "caller", "", "Calling role")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newStoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [backlog.json]",
		Short: "Count stories by status, priority and feature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := storeFromArgs(args).Stats(cmd.Context())
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
}

func newStoryNextIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-id [backlog.json]",
		Short: "Print the next free story id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := storeFromArgs(args).NextID(cmd.Context())
			if err != nil {
				return err
			}
			return outputJSON(cmd, map[string]string{"next_id": id})
		},
	}
}

func newStoryQuestionCmd() *cobra.Command {
	var req backlog.QuestionRequest
	var caller string
	cmd := &cobra.Command{
		Use:   "question [backlog.json]",
		Short: "Ask a question, or resolve one with --id --resolve",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseCaller(caller)
			if err != nil {
				return err
			}
			req.Caller = r
			res, err := storeFromArgs(args).Question(cmd.Context(), req)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Text, "text", "", "Question text")
	f.StringVar(&caller, "caller", "", "Calling role")
	f.StringVar(&req.ID, "id", "", "Question id to resolve")
	f.StringVar(&req.Answer, "answer", "", "Answer")
	f.BoolVar(&req.Resolve, "resolve", false, "Resolve the question named by --id")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newStoryRenderCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "render [backlog.json]",
		Short: "Write BACKLOG.md from the backlog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := storeFromArgs(args)
			if output == "" {
				output = backlog.RenderPath(s.Path())
			}
			res, err := s.Render(cmd.Context(), output)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Markdown file to write (default: BACKLOG.md next to the backlog)")
	return cmd
}
