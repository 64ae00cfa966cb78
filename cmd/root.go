package cmd

import (
	"fmt"
	"os"

	"github.com/estimatehq/followup-engine/cmd/sweep"
	"github.com/estimatehq/followup-engine/cmd/worker"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "followup-engine",
		Short: "Estimate follow-up automation engine CLI",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
	rootCmd.AddCommand(sweep.NewSweepCmd())
}
