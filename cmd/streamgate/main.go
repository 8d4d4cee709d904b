package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "streamgate",
		Short: "Admission-control gateway for licensed media streaming",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("STREAMGATE_CONFIG"), "path to config.yaml (env STREAMGATE_CONFIG)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newKeygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
