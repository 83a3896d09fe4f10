// Command pwnode is the CLI entry point for a ProcessWarp node, a
// cobra-based rework of racedetector's cmd/racedetector (that tool's own
// build/run/test subcommands were hand-rolled os.Args switching; cobra
// is adopted from ja7ad-consumption's cmd/consumption, the pack's actual
// example of a cobra-based tool).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "pwnode",
		Short: "Run a ProcessWarp node",
		Long: `pwnode runs ProcessWarp demos on in-process nodes: "run" activates
one process and ticks its thread's interpreter round-robin until it
finishes, and "cluster" warps a thread between two nodes.`,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newClusterCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print pwnode's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("pwnode version %s\n", version)
			return nil
		},
	}
}
