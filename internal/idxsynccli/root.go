package idxsynccli

import (
	"fmt"

	"github.com/spf13/cobra"

	"idxsync/internal/version"
)

func NewRootCommand() *cobra.Command {
	opts := newDefaultOptions()
	cmd := &cobra.Command{
		Use:           "idxsync",
		Short:         "Keep search indexes in sync with the relational store",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = version.String()
	cmd.InitDefaultVersionFlag()
	if f := cmd.Flags().Lookup("version"); f != nil {
		f.Shorthand = "v"
	}

	withOptionsContext(cmd, opts)
	bindFlags(cmd, opts)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		opts := optionsFrom(cmd)
		if opts == nil {
			return fmt.Errorf("options missing")
		}
		return opts.Prepare()
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if opts := optionsFrom(cmd); opts != nil {
			opts.closeLog()
		}
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newBootstrapCommand())
	return cmd
}
