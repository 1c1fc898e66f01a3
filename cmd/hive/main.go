// hive is the command-line front end to the research substrate:
// sessions, indexing, hybrid search, research jobs, the claim ledger,
// and cross-session memory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"researchhive/internal/config"
	"researchhive/internal/logging"
)

var (
	workspace string
	sessionID string
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "hive - local-first research substrate",
	Long: `hive ingests web pages and documents into per-session stores,
ranks evidence with hybrid keyword+semantic search, and drives
multi-phase research jobs that produce cited reports.

State lives under <workspace>/.hive/. Use "hive session new" to start.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			ws, err := os.Getwd()
			if err != nil {
				return err
			}
			workspace = ws
		}
		if _, err := config.Load(workspace); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		logging.Boot("hive starting in %s", workspace)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id (default: most recently used)")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
