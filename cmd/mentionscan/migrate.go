package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/mentionscan/internal/infrastructure/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the post_tickers and comment_tickers tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := db.NewManager(a.config.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer manager.Close()

			if !manager.IsEnabled() {
				return errors.New("migrate requires database.enabled")
			}
			if err := manager.Repository().Schema.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			log.Info().Msg("Match tables ready")
			return nil
		},
	}
}
