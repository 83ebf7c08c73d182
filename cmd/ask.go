package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <domain> <question...>",
		Short: "Ask a question about a crawled domain",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			answer, err := rt.app.Service.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for text, err := range answer {
				if _, werr := io.WriteString(out, text); werr != nil {
					return werr
				}
				if err != nil {
					fmt.Fprintln(out)
					return err
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
