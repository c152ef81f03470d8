package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("alertengine.yml"); err == nil {
		return "alertengine.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "alertengine.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "alertengine.yml"
}

func newRootCommand() *cobra.Command {
	var configArg string

	root := &cobra.Command{
		Use:           "alertengine",
		Short:         "Threshold rule and anomaly alerting engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), findConfigFile(configArg))
		},
	}
	root.PersistentFlags().StringVarP(&configArg, "config", "c", "", "path to alertengine.yml")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler, rule evaluation, anomaly passes and escalation sweeps",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runEngine(cmd.Context(), findConfigFile(configArg))
			},
		},
		newRulesCommand(&configArg),
		newDecomposeCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
