package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/mentionscan/internal/reference"
)

func newTickersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickers",
		Short: "Manage the ticker reference list",
	}
	cmd.AddCommand(newTickersExportCmd(a))
	return cmd
}

func newTickersExportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the NASDAQ Trader symbol directories and write them as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := reference.NewNasdaqTraderProvider(a.config.Reference.NasdaqTrader(), nil)
			listings, err := provider.Listings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to download symbol directories: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}

			if err := reference.WriteCSV(w, listings); err != nil {
				return err
			}

			log.Info().Int("listings", len(listings)).Str("out", out).Msg("Ticker list exported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "data/tickers.csv", "Output file, or - for stdout")
	return cmd
}
