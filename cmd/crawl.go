package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	var recrawl bool
	cmd := &cobra.Command{
		Use:   "crawl <domain>",
		Short: "Crawl and index a domain in the foreground",
		Long: `Crawls the domain breadth-first up to crawler.depth link hops, stores
every page in the domain table and indexes its chunks. Use --recrawl to
refresh a completed domain; unchanged pages are skipped by content hash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			adm, err := rt.app.Service.CrawlDomain(cmd.Context(), args[0], recrawl)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", args[0], rt.app.Service.GetStatus(args[0]), adm)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recrawl, "recrawl", false, "crawl again even if the domain is completed")
	return cmd
}
