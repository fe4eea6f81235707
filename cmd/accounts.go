package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	statusadapter "github.com/bnema/gemini-pool/internal/adapters/render/status"
	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountsCmd(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Inspect and manage pooled accounts",
	}

	cmd.AddCommand(newAccountsStatusCmd(state), newAccountsUnfreezeCmd(state))

	return cmd
}

func newAccountsStatusCmd(state *cli) *cobra.Command {
	var (
		asJSON bool
		remote bool
		server string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool health",
		Long:  "By default the credential directory is loaded and every account is warmed up locally. With --remote or --server the live state of a running gateway is shown, quarantines included.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			var statuses []domain.AccountStatus
			if remote || server != "" {
				statuses, err = app.management(resolveServer(app, server)).Accounts(cmd.Context())
			} else {
				statuses, err = warmLocalPool(cmd, app)
			}
			if err != nil {
				return err
			}

			return writeStatusesOutput(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output statuses as JSON")
	cmd.Flags().BoolVar(&remote, "remote", false, "Query the gateway at server.host and server.port instead of warming up locally")
	cmd.Flags().StringVar(&server, "server", "", "Query the gateway at this base URL instead of warming up locally")

	return cmd
}

func newAccountsUnfreezeCmd(state *cli) *cobra.Command {
	var (
		account string
		server  string
	)

	cmd := &cobra.Command{
		Use:   "unfreeze",
		Short: "Lift the quarantine of an account on a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			message, err := app.management(resolveServer(app, server)).Unfreeze(cmd.Context(), account)
			if err != nil {
				return fmt.Errorf("unfreeze %s: %w", account, err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), message)
			return err
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account file name or a suffix of it")
	cmd.Flags().StringVar(&server, "server", "", "Gateway base URL (defaults to server.host and server.port)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func resolveServer(app *app, server string) string {
	if server = strings.TrimSpace(server); server != "" {
		return server
	}
	return app.gatewayURL()
}

func warmLocalPool(cmd *cobra.Command, app *app) ([]domain.AccountStatus, error) {
	defer app.pool.Close()

	if err := runWarmUp(cmd.Context(), cmd.ErrOrStderr(), app.pool); err != nil {
		if errors.Is(err, domain.ErrNoValidCredentials) {
			return nil, fmt.Errorf("%w in %s", err, app.cfg.Accounts.Dir)
		}
		return nil, err
	}

	return app.pool.Statuses(), nil
}

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []domain.AccountStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
