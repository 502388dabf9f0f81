package idxsynccli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"idxsync/internal/config"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured index definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd)
			if opts == nil {
				return fmt.Errorf("options missing")
			}
			defs, err := config.LoadDefinitions(opts.System.Definitions)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tMODE\tCRON\tHANDLER")
			for _, d := range defs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Mode, d.Cron, d.Handler)
			}
			return tw.Flush()
		},
	}
}
