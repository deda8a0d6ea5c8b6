package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sdlc-agency/agency/internal/types"
)

// outputJSON writes v as pretty-printed JSON to the command's stdout.
func outputJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// outputJSONError writes err as a {error, code} object.
func outputJSONError(w io.Writer, err error) {
	errObj := map[string]string{
		"error": err.Error(),
		"code":  types.Code(err),
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(errObj) // Best effort: nothing else to report to
}

// readStdin reads the command's stdin to EOF. An interactive terminal is
// refused, otherwise the command would sit waiting for input nobody pipes.
func readStdin(cmd *cobra.Command, flag string) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, types.InvalidArgumentf("%s expects piped input but stdin is a terminal", flag)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return data, nil
}

// readInput returns the text given by --text, --file or --text-stdin.
func readInput(cmd *cobra.Command, text, file string, fromStdin bool) (string, error) {
	switch {
	case fromStdin:
		data, err := readStdin(cmd, "--text-stdin")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file) // #nosec G304 - file named on the command line
		if err != nil {
			return "", types.NotFoundf("File not found: %s", file)
		}
		return string(data), nil
	case text != "":
		return text, nil
	}
	return "", types.InvalidArgumentf("Provide --text, --file, or --text-stdin")
}

// readObjective returns --objective, or stdin when --objective-stdin is set.
func readObjective(cmd *cobra.Command, objective string, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := readStdin(cmd, "--objective-stdin")
		if err != nil {
			return "", err
		}
		objective = strings.TrimSpace(string(data))
	}
	if objective == "" {
		return "", types.InvalidArgumentf("Either --objective or --objective-stdin is required")
	}
	return objective, nil
}
