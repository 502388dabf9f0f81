package idxsynccli

import (
	"fmt"

	"github.com/spf13/cobra"

	"idxsync/internal/source/sqlsource"
)

func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the development schema in a sqlite source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd)
			if opts == nil {
				return fmt.Errorf("options missing")
			}
			src, err := sqlsource.Open(cmd.Context(), opts.System.DBDriver, opts.System.DBDSN)
			if err != nil {
				return err
			}
			defer src.Close()
			if err := src.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema ready: %s\n", opts.System.DBDSN)
			return nil
		},
	}
}
