package main

import (
	"fmt"
	"os"

	"github.com/danmuck/boltctl/internal/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boltctl: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logger     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "boltctl",
		Short:         "bolt.chat protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal; only an explicit one must exist.
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file: %w", err)
			}
			opts.logger = logging.ConfigureRuntime()
			if opts.logLevel != "" {
				level, ok := logging.ParseLevel(opts.logLevel)
				if !ok {
					return fmt.Errorf("unknown log level %q", opts.logLevel)
				}
				opts.logger = opts.logger.Level(level)
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "boltctl.toml", "client config path")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with BOLTCTL_* overrides")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (trace..error)")

	root.AddCommand(
		newConnectCmd(opts),
		newResolveCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
