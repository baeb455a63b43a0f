package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coregx/wsrm/cmd/wsrm-server/internal/config"
	"github.com/coregx/wsrm/policy"
)

func newScheduleCommand() *cobra.Command {
	var policyFile string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the retransmission schedule of the policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				p   *policy.Policy
				err error
			)
			if policyFile != "" {
				p, err = policy.LoadFile(policyFile)
			} else {
				cfg, loadErr := config.Load()
				if loadErr != nil {
					return loadErr
				}
				p, err = cfg.Policy()
			}
			if err != nil {
				return err
			}

			strategy := p.Strategy()
			if err := strategy.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, strategy.GetRetrySchedule())
			fmt.Fprintf(out, "Total span before failure: %v\n", strategy.TotalSpan())
			return nil
		},
	}
	cmd.Flags().StringVarP(&policyFile, "policy", "p", "", "YAML policy file (defaults to WSRM_POLICY_FILE)")
	return cmd
}
