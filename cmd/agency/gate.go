package main

import (
	"github.com/spf13/cobra"

	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/gate"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Parse gate verdicts from agent output",
	}
	cmd.AddCommand(
		newGateParseCmd(),
		newGateCheckCmd(),
		newGateExtractQuestionsCmd(),
	)
	return cmd
}

// textFlags are the three ways of handing agent output to a command.
type textFlags struct {
	text      string
	file      string
	fromStdin bool
}

func (f *textFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.text, "text", "", "Text to parse")
	cmd.Flags().StringVar(&f.file, "file", "", "File containing agent output")
	cmd.Flags().BoolVar(&f.fromStdin, "text-stdin", false, "Read text from stdin")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "text-stdin")
}

func (f *textFlags) read(cmd *cobra.Command) (string, error) {
	return readInput(cmd, f.text, f.file, f.fromStdin)
}

func newGateParseCmd() *cobra.Command {
	var (
		tf        textFlags
		phaseName string
	)
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Extract the verdict markers for a gate phase",
		Long: `Extract the verdict markers for a gate phase.

validate: the first [VERDICT:...] marker is the PM's, the second the TL's.
review:   the last [GATE:PASS|FAIL] marker wins.
test:     the last [GATE:PASS|FAIL_BUG|FAIL_TEST] marker wins.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := tf.read(cmd)
			if err != nil {
				return err
			}
			res, err := gate.Parse(phaseFlag(phaseName), text)
			if err != nil {
				return err
			}
			return outputJSON(cmd, res)
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&phaseName, "phase", "", "Gate phase: validate|review|test")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newGateCheckCmd() *cobra.Command {
	var (
		phaseName string
		iteration int
		max       int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide whether a gate loop should escalate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max") {
				max = config.GetInt(config.KeyGateMaxIterations)
			}
			return outputJSON(cmd, gate.CheckIteration(phaseName, iteration, max))
		},
	}
	cmd.Flags().StringVar(&phaseName, "phase", "", "Gate phase")
	cmd.Flags().IntVar(&iteration, "iteration", 0, "Current iteration")
	cmd.Flags().IntVar(&max, "max", 3, "Maximum iterations (default from gate.max-iterations)")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("iteration")
	return cmd
}

func newGateExtractQuestionsCmd() *cobra.Command {
	var tf textFlags
	cmd := &cobra.Command{
		Use:   "extract-questions",
		Short: "Collect [QUESTIONS] blocks and inline [QUESTION: ...] markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := tf.read(cmd)
			if err != nil {
				return err
			}
			return outputJSON(cmd, gate.ExtractQuestions(text))
		},
	}
	tf.register(cmd)
	return cmd
}
