package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emandor/omr_service/internal/config"
	"github.com/emandor/omr_service/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		conn := db.MustConnect(cfg.DBDSN)
		defer conn.Close()
		if err := db.Migrate(conn); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations done")
		return nil
	},
}
