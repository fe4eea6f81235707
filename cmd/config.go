package cmd

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var showSecrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			cfg := app.cfg
			if !showSecrets {
				cfg = cfg.Redacted()
			}

			data, err := cfg.TOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	show.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print the OAuth client secret in clear")

	cmd.AddCommand(show)
	return cmd
}
