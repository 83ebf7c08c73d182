package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [domain]",
		Short: "Show the status of one or all domains",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			domains := args
			if len(domains) == 0 {
				domains = rt.app.Service.Domains()
			}
			for _, d := range domains {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d, rt.app.Service.GetStatus(d))
			}
			return nil
		},
	}
}
