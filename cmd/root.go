package cmd

import (
	"errors"

	"github.com/bnema/gemini-pool/internal/config"
	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/spf13/cobra"
)

// skipWiring marks commands that run without configuration.
const skipWiring = "gpool/skip-wiring"

var errNotWired = errors.New("application is not wired")

func Execute() error {
	return newRootCmd().Execute()
}

// cli holds what PersistentPreRunE resolves for the subcommands.
type cli struct {
	configFile string
	envFiles   []string
	app        *app
}

func (c *cli) App() (*app, error) {
	if c.app == nil {
		return nil, errNotWired
	}
	return c.app, nil
}

func newRootCmd() *cobra.Command {
	state := &cli{}

	rootCmd := &cobra.Command{
		Use:           "gpool",
		Short:         "Gemini credential pool gateway",
		Long:          "gpool serves an OpenAI-compatible streaming chat endpoint backed by a pool of Gemini Code Assist credentials, picking accounts with Thompson sampling and quarantining the ones that fail.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipWiring] == "true" {
				return nil
			}

			opts := config.LoadOptions{ConfigFile: state.configFile}
			if cmd.Flags().Changed("env-file") {
				opts.EnvFiles = state.envFiles
			}

			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			if err := observability.ConfigureLogging(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			state.app, err = wireApp(cfg)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&state.configFile, "config", "", "Path to a gpool.toml config file")
	rootCmd.PersistentFlags().StringSliceVar(&state.envFiles, "env-file", nil, "Env files to load before reading the environment (default .env)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(state),
		newAccountsCmd(state),
		newLoginCmd(state),
		newConfigCmd(state),
	)

	return rootCmd
}
