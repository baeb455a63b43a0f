package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/cmd/wsrm-server/internal/config"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.Database.IsSQL() {
				return fmt.Errorf("migrate needs a SQL driver, DB_DRIVER is %q", cfg.Database.Driver)
			}
			if cfg.Database.Prefix != "wsrm_" {
				return fmt.Errorf("embedded migrations create wsrm_ tables, DB_PREFIX is %q", cfg.Database.Prefix)
			}

			db, err := openDB(cmd.Context(), &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := wsrm.ApplyMigrations(cmd.Context(), db, cfg.Database.Driver)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "Schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "Applied %s\n", v)
			}
			return nil
		},
	}
}
