package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/types"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent matrix: models, names, prompts and wave order",
	}
	cmd.AddCommand(
		newAgentModelCmd(),
		newAgentNameCmd(),
		newAgentListCmd(),
		newAgentPromptCmd(),
		newAgentOrderCmd(),
	)
	return cmd
}

// roleAndPhase parses the --role/--phase pair shared by the agent commands.
func roleAndPhase(role, phaseName string) (types.Role, types.Phase, error) {
	r, err := types.ParseRole(role)
	if err != nil {
		return "", "", err
	}
	p, err := types.ParsePhase(phaseName)
	if err != nil {
		return "", "", err
	}
	return r, p, nil
}

func newAgentModelCmd() *cobra.Command {
	var role, phaseName string
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model assigned to a role in a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, p, err := roleAndPhase(role, phaseName)
			if err != nil {
				return err
			}
			s, err := agent.Lookup(p, r)
			if err != nil {
				return err
			}
			models, err := loadModels()
			if err != nil {
				return err
			}
			return outputJSON(cmd, map[string]string{"model": models.Model(s)})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "pm|po|tl|dev|qa")
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newAgentNameCmd() *cobra.Command {
	var role, phaseName, kind string
	cmd := &cobra.Command{
		Use:   "name",
		Short: "Deterministic agent name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, p, err := roleAndPhase(role, phaseName)
			if err != nil {
				return err
			}
			k, err := agent.ParseKind(kind)
			if err != nil {
				return err
			}
			return outputJSON(cmd, map[string]string{"name": agent.Name(r, p, k)})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "pm|po|tl|dev|qa")
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&kind, "type", "", "lead|assist")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var phaseName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Every agent of a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := loadModels()
			if err != nil {
				return err
			}
			agents, err := agent.List(phaseFlag(phaseName), models)
			if err != nil {
				return err
			}
			return outputJSON(cmd, agents)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newAgentPromptCmd() *cobra.Command {
	var (
		role, phaseName, kind  string
		root, script, backlogP string
		objective              string
		objectiveStdin         bool
	)
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Spawn prompt for one agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, p, err := roleAndPhase(role, phaseName)
			if err != nil {
				return err
			}
			k, err := agent.ParseKind(kind)
			if err != nil {
				return err
			}
			obj, err := readObjective(cmd, objective, objectiveStdin)
			if err != nil {
				return err
			}
			models, err := loadModels()
			if err != nil {
				return err
			}
			res, err := agent.BuildPrompt(r, p, k, agent.PromptInput{
				ProjectRoot: projectRoot(root),
				ScriptPath:  script,
				BacklogPath: resolveBacklogPath(backlogP),
				Objective:   obj,
			}, models)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "pm|po|tl|dev|qa")
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	cmd.Flags().StringVar(&kind, "type", "", "lead|assist (default: the matrix type)")
	projectRootFlag(cmd, &root)
	cmd.Flags().StringVar(&script, "script-path", "", "Backlog manager named in the prompt (default: built-in story commands)")
	cmd.Flags().StringVar(&backlogP, "backlog-path", "", "Path to backlog.json named in the prompt")
	cmd.Flags().StringVar(&objective, "objective", "", "Project objective")
	cmd.Flags().BoolVar(&objectiveStdin, "objective-stdin", false, "Read the objective from stdin")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newAgentOrderCmd() *cobra.Command {
	var phaseName string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Execution waves of a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := loadModels()
			if err != nil {
				return err
			}
			waves, err := agent.Order(phaseFlag(phaseName), models)
			if err != nil {
				return err
			}
			return outputJSON(cmd, waves)
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Phase name")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
