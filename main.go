package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/face-attendance/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "attendface",
	Short: "Face recognition attendance service",
	Long: `attendface registers student faces and marks attendance by matching
captured photos against the registered gallery.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env file is optional, don't fail if not found
		return config.LoadDotEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default config/$ENV.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, enrollCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(config.GetEnv())
}
