// boardroom is the orchestration core for a fleet of executive agents: it
// drives workflow state machines, routes bus traffic, runs the consensus
// protocol and owns the periodic jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "boardroom",
	Short: "Orchestration core for the executive agent fleet",
	Long: `boardroom drives multi-step agent workflows through persisted state
machines, routes inter-agent messages over NATS, runs the CEO/DAO consensus
protocol, and schedules the periodic jobs that keep the fleet moving.`,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to boardroom.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
