package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"alertengine/internal/anomaly"
	"alertengine/internal/rules"
)

func newRulesCommand(configArg *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect alert rule files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a rule file and report invalid rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(findConfigFile(*configArg))
				if err != nil {
					return err
				}
				path = cfg.AlertEngine.Rules.Path
			}
			return validateRules(cmd.OutOrStdout(), path)
		},
	})
	return cmd
}

func validateRules(out io.Writer, path string) error {
	loaded, err := rules.LoadRuleSet(path)
	if err != nil {
		return err
	}
	errs := rules.Validate(loaded)
	for _, e := range errs {
		fmt.Fprintf(out, "invalid: %v\n", e)
	}
	enabled := 0
	for _, r := range loaded {
		if r.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(out, "%s: %d rules (%d enabled), %d problems\n", path, len(loaded), enabled, len(errs))
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func newDecomposeCommand() *cobra.Command {
	var (
		period int
		input  string
	)
	cmd := &cobra.Command{
		Use:   "decompose",
		Short: "Split a series of numbers into trend, seasonal and residual components",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			values, err := readValues(in)
			if err != nil {
				return err
			}
			d, err := anomaly.Decompose(values, period)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().IntVarP(&period, "period", "p", 24, "season length in samples")
	cmd.Flags().StringVarP(&input, "input", "i", "", "file of numbers, whitespace or comma separated (default stdin)")
	return cmd
}

func readValues(r io.Reader) ([]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var values []float64
	for scanner.Scan() {
		for _, field := range strings.Split(scanner.Text(), ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", field, err)
			}
			values = append(values, v)
		}
	}
	return values, scanner.Err()
}
