package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelmesh/fedagg/cmd/cli"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

var logMode string

var rootCmd = &cobra.Command{
	Use:   "fedagg",
	Short: "SentinelMesh federated aggregation server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch logMode {
		case "debug", "pretty", "info", "prod", "test":
			gologger.InitWithMode(gologger.LogMode(logMode))
		default:
			gologger.InitWithMode(gologger.LogModePretty)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cli.RunServer()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "pretty", "Log mode: debug, pretty, info, prod, test")

	rollbackCmd.Flags().String("version-id", "", "Version to roll back to")
	if err := rollbackCmd.MarkFlagRequired("version-id"); err != nil {
		log.Fatalf("Error marking flag required: %v", err)
	}

	cleanupCmd.Flags().Int("keep", 10, "Number of most recent versions to keep")

	reportCmd.Flags().String("out", "version_report.json", "Output path for the report")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(reportCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the aggregation server",
	Run: func(cmd *cobra.Command, args []string) {
		cli.RunServer()
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List saved model versions",
	Run: func(cmd *cobra.Command, args []string) {
		cli.RunListVersions()
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll the model back to an earlier version",
	Run: func(cmd *cobra.Command, args []string) {
		versionID, _ := cmd.Flags().GetString("version-id")
		cli.RunRollback(versionID)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old model versions",
	Run: func(cmd *cobra.Command, args []string) {
		keep, _ := cmd.Flags().GetInt("keep")
		cli.RunCleanup(keep)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a JSON summary of the version registry",
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		cli.RunExportReport(out)
	},
}
