// Command dynload is a thin CLI over the dynload library: enough to
// exercise image parsing, loading, and inspection end to end without being
// a product surface in its own right.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/owlshift/dynload/internal/log"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "dynload",
		Short: "Inspect and load ELF shared objects in-process",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log.Init(verbose)
	}

	root.AddCommand(newInfoCmd())
	root.AddCommand(newLoadCmd())
	root.AddCommand(newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
