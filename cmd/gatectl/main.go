// Command gatectl is the operator CLI: it migrates the schema, provisions
// accounts and loads seed data.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "Operate the community gate visitor service",
	Long: `gatectl runs maintenance tasks against the service database.

Configuration is read from the environment (and an optional .env file),
the same way the server reads it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, createUserCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
