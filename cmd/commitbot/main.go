package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"commitbot/internal/config"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "commitbot",
		Short:         "Commitment tracking bot: reminders, reply collection and escalation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Secrets may live in a .env file next to the config; a missing
			// default file is fine.
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with secrets")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(tickCmd(opts))
	rootCmd.AddCommand(triggerCmd(opts))
	rootCmd.AddCommand(jobsCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(opts *rootOptions) (*config.Manager, *config.Config, error) {
	m := config.NewManager(opts.configPath)
	cfg, err := m.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config %s: %w", opts.configPath, err)
	}
	return m, cfg, nil
}
