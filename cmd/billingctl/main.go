package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "billingctl",
	Short: "Operator tools for the Reelhouse billing engine",
	Long: `billingctl runs the billing maintenance jobs on demand.

Every command reads the same environment as the server (.env or the
process environment) and talks to the database and cache directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(reconcileCmd, sweepCheckoutsCmd, archiveAuditCmd, taskTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
