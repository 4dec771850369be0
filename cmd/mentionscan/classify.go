package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/reference"
)

type classifyFlags struct {
	post           bool
	allowLowercase bool
	symbols        []string
}

type classifyOutput struct {
	Text    string           `json:"text"`
	Matches []mentions.Match `json:"matches"`
}

func newClassifyCmd(a *app) *cobra.Command {
	f := &classifyFlags{}

	cmd := &cobra.Command{
		Use:   "classify TEXT...",
		Short: "Print the qualifying ticker matches for a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var provider reference.Provider
			if len(f.symbols) > 0 {
				provider = staticProvider(f.symbols)
			} else {
				p, closeCache, err := buildProvider(a.config, nil)
				if err != nil {
					return err
				}
				defer closeCache()
				provider = p
			}

			set, err := reference.Load(cmd.Context(), provider)
			if err != nil {
				return err
			}

			allowLowercase := a.config.Scan.AllowLowercase
			if cmd.Flags().Changed("allow-lowercase") {
				allowLowercase = f.allowLowercase
			}

			text := strings.Join(args, " ")
			matches := buildScorer(a.config).Classify(text, set, mentions.ClassifyOptions{
				Threshold:      a.config.Scan.Threshold,
				AllowLowercase: allowLowercase,
				IsPost:         f.post,
			})
			if matches == nil {
				matches = []mentions.Match{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{Text: text, Matches: matches})
		},
	}

	cmd.Flags().BoolVar(&f.post, "post", false, "Score the text as a post title")
	cmd.Flags().BoolVar(&f.allowLowercase, "allow-lowercase", false, "Enable the lowercase detection strategy")
	cmd.Flags().StringSliceVar(&f.symbols, "symbols", nil, "Use these symbols instead of the configured reference list")

	return cmd
}
