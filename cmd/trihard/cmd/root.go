package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trihard",
	Short: "Train embedding models with batch-hard triplet mining",
	Long: `Trihard trains metric-learning embedding models on identity-labelled
image datasets using PK-batch sampling and batch-hard triplet mining.
Runs are checkpointed and resumable.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
