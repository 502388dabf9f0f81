package idxsynccli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"idxsync/internal/idxsyncd"
)

func newStatusCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run of each definition from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd)
			if opts == nil {
				return fmt.Errorf("options missing")
			}
			c, err := idxsyncd.Dial(opts.AdminAddr)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", opts.AdminAddr, err)
			}
			defer c.Close()
			c.SetTimeout(10 * time.Second)

			list, err := c.IndexStatus(name)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tMODE\tSTATE\tFINISHED\tDETAIL")
			for _, st := range list {
				state, detail := "idle", ""
				switch {
				case st.Running:
					state = "running"
				case st.Error != "":
					state, detail = "failed", st.Error
				case st.Result != nil:
					state = "ok"
					detail = fmt.Sprintf("indexed=%d created=%d updated=%d deleted=%d",
						st.Result.Indexed, st.Result.Created, st.Result.Updated, st.Result.Deleted)
				}
				finished := "-"
				if !st.FinishedAt.IsZero() {
					finished = st.FinishedAt.Format(time.RFC3339)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Name, st.Mode, state, finished, detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&name, "index", "i", "", "only this definition")
	return cmd
}
