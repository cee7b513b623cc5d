package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSelectCmd(a *app) *cobra.Command {
	var (
		required             []string
		model                string
		maxContextTokens     int
		priorityThreshold    float64
		compressionThreshold int
		asJSON               bool
	)

	cmd := &cobra.Command{
		Use:   "select <query...>",
		Short: "Select and format the contexts relevant to a query",
		Long: `Select the contexts relevant to a query, pack them into the token budget and
print the formatted text.

Examples:
  contextctl select "ledger migration"
  contextctl select deploy plan --require 3f2a... --max-context-tokens 500 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := a.cfg.Injection.Clone()

			flags := cmd.Flags()
			if flags.Changed("model") {
				config.ModelName = model
			}
			if flags.Changed("max-context-tokens") {
				config.MaxContextTokens = maxContextTokens
			}
			if flags.Changed("threshold") {
				config.PriorityThreshold = priorityThreshold
			}
			if flags.Changed("compression-threshold") {
				config.CompressionThreshold = compressionThreshold
			}

			result, err := a.injector.SelectAndFormat(cmd.Context(), strings.Join(args, " "), config, required...)
			if err != nil {
				return err
			}

			if asJSON {
				return a.print(cmd.OutOrStdout(), result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.FormattedText)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&required, "require", nil, "context ids that must be considered first")
	cmd.Flags().StringVar(&model, "model", "", "downstream model name")
	cmd.Flags().IntVar(&maxContextTokens, "max-context-tokens", 0, "hard token budget for the formatted context")
	cmd.Flags().Float64Var(&priorityThreshold, "threshold", 0, "minimum score a candidate needs")
	cmd.Flags().IntVar(&compressionThreshold, "compression-threshold", 0, "minimum tokens before compression is attempted")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [text]",
		Short: "Count tokens of a text and bucket them by id range",
		Long: `Count the tokens of a text and report how they distribute over the
special, common and rare buckets. Reads stdin when no text (or "-") is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), a.injector.AnalyzeTokenUsage(text))
		},
	}
}
