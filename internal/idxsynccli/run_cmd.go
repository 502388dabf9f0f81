package idxsynccli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"idxsync/internal/app"
	"idxsync/internal/config"
)

func newRunCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one index definition once (interactive menu without --index)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd)
			if opts == nil {
				return fmt.Errorf("options missing")
			}
			a, err := app.Open(cmd.Context(), opts.System)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var def config.Definition
			if strings.TrimSpace(name) != "" {
				def, err = a.Definition(name)
			} else {
				def, err = selectDefinition(cmd.InOrStdin(), out, a.Definitions)
			}
			if err != nil {
				return err
			}

			if _, err := a.Runner.Run(cmd.Context(), def); err != nil {
				_, _ = fmt.Fprintln(out, "Index failed.")
				return err
			}
			_, _ = fmt.Fprintln(out, "Indexing operation completed.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "index", "i", "", "definition to run (skips the menu)")
	return cmd
}

var errNoSelection = errors.New("no index selected")

// selectDefinition prints a numbered menu and reads choices from in until
// one is valid.
func selectDefinition(in io.Reader, out io.Writer, defs []config.Definition) (config.Definition, error) {
	if len(defs) == 0 {
		return config.Definition{}, fmt.Errorf("no index definitions")
	}
	_, _ = fmt.Fprintln(out, "[================ Yummy Indexing CLI ================]")
	_, _ = fmt.Fprintln(out, "Select the index you want to perform.")
	for i, d := range defs {
		_, _ = fmt.Fprintf(out, "[%d] %s - %s\n", i+1, d.Name, d.Mode)
	}

	sc := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "\nPlease enter your number: ")
		if !sc.Scan() {
			_, _ = fmt.Fprintln(out)
			if err := sc.Err(); err != nil {
				return config.Definition{}, err
			}
			return config.Definition{}, errNoSelection
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			_, _ = fmt.Fprintln(out, "Invalid input, please enter a number.")
			continue
		}
		if n < 1 || n > len(defs) {
			_, _ = fmt.Fprintf(out, "Invalid input, please enter a number between 1 and %d.\n", len(defs))
			continue
		}
		return defs[n-1].Clone(), nil
	}
}
