package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/cmd/wsrm-server/internal/config"
	"github.com/coregx/wsrm/transport"
)

func newReportCommand() *cobra.Command {
	var destination, key string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print sequence reports from persistent storage as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger("error")
			p, err := cfg.Policy()
			if err != nil {
				return err
			}

			backend, cleanup, err := openBackend(ctx, &cfg.Database, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := []wsrm.Option{
				wsrm.WithSender(transport.NewHTTPSender(cfg.Transport.Timeout, nil)),
				wsrm.WithLogger(logger),
				wsrm.WithPolicy(p),
			}
			if backend != nil {
				opts = append(opts, wsrm.WithBackend(backend))
			}
			engine, err := wsrm.NewEngine(opts...)
			if err != nil {
				return err
			}
			if err := engine.Init(ctx); err != nil {
				return err
			}
			defer func() { _ = engine.Shutdown(ctx) }()

			var v interface{}
			if destination != "" {
				v, err = engine.OutgoingSequenceReport(ctx, destination, key)
			} else {
				v, err = engine.AggregateReport(ctx)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "report a single outbound sequence to this destination")
	cmd.Flags().StringVar(&key, "key", "", "sequence key, with --destination")
	return cmd
}
