package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Commit is the git revision the binary was built from (optional ldflag).
var Commit = ""

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := map[string]string{
				"version": Version,
				"build":   Build,
			}
			if commit := resolveCommitHash(); commit != "" {
				result["commit"] = shortCommit(commit)
			}
			return outputJSON(cmd, result)
		},
	}
}

func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
