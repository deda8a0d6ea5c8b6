package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/telemetry"
)

var (
	// Version is the current version of agency (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

// commandSpan covers the executing command when telemetry is enabled.
var commandSpan trace.Span

// exitErr carries a numeric exit code through the cobra error path. A
// non-empty msg is written to stderr as is.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	verbose    bool
	quiet      bool
	configFile string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "agency",
		Short: "Deterministic SDLC operations for orchestrating agents",
		Long: `agency tracks a seven-phase delivery pipeline (plan, design, validate,
implement, review, test, document) for a team of agents. Every command
loads the persisted state, applies one operation and prints JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			debug.SetVerbose(flags.verbose)
			debug.SetQuiet(flags.quiet)
			if flags.configFile != "" {
				config.SetConfigFile(flags.configFile)
			}
			if err := config.Initialize(); err != nil {
				return err
			}
			if used := config.ConfigFileUsed(); used != "" {
				debug.Logf("config: using %s\n", used)
			}
			if err := telemetry.Init(cmd.Context(), telemetry.Settings{
				ServiceName:     "agency",
				Version:         Version,
				Enabled:         config.GetBool(config.KeyOTelEnabled),
				Stderr:          config.GetBool(config.KeyOTelStderr),
				MetricsEndpoint: config.GetString(config.KeyOTelMetricsEndpoint),
			}); err != nil {
				debug.Warnf("telemetry disabled: %v", err)
			}
			ctx, span := telemetry.Tracer("github.com/sdlc-agency/agency/cmd").Start(cmd.Context(), cmd.CommandPath())
			cmd.SetContext(ctx)
			commandSpan = span
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug output on stderr")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress warnings")
	pf.StringVar(&flags.configFile, "config", "", "Config file (default: .agency/config.yaml, searched upward)")

	root.AddCommand(
		newStateCmd(),
		newPhaseCmd(),
		newGateCmd(),
		newBacklogCmd(),
		newStoryCmd(),
		newPipelineCmd(),
		newAgentCmd(),
		newDecisionCmd(),
		newMetricsCmd(),
		newHookCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	if commandSpan != nil {
		if err != nil {
			commandSpan.RecordError(err)
		}
		commandSpan.End()
	}
	if serr := telemetry.Shutdown(context.Background()); serr != nil {
		debug.Logf("telemetry flush: %v\n", serr)
	}
	stop()
	if err == nil {
		return
	}

	var ee *exitErr
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprint(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	outputJSONError(os.Stderr, err)
	os.Exit(1)
}
