package cmd

import (
	"fmt"
	"strings"

	credentialsfile "github.com/bnema/gemini-pool/internal/adapters/credentials/file"
	"github.com/bnema/gemini-pool/internal/adapters/oauth"
	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newLoginCmd(state *cli) *cobra.Command {
	var (
		projectID string
		name      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Enroll a Google account through the browser",
		Long:  "login runs the OAuth consent flow on a loopback callback and writes a new credential record to the accounts directory. The project is discovered on first use when --project is omitted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}
			return runBrowserLogin(cmd, app, strings.TrimSpace(projectID), strings.TrimSpace(name))
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Google Cloud project id for this account")
	cmd.Flags().StringVar(&name, "name", "", "Credential file name (defaults to the project id or a timestamp)")

	return cmd
}

func runBrowserLogin(cmd *cobra.Command, app *app, projectID, name string) error {
	if err := app.cfg.RequireOAuthClient(); err != nil {
		return err
	}

	id := credentialID(app, projectID, name)
	if _, err := app.store.Get(cmd.Context(), id); err == nil {
		return fmt.Errorf("credential %s already exists in %s", id, app.store.Root())
	}

	state, err := oauth.NewState()
	if err != nil {
		return fmt.Errorf("generate oauth state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	server, err := oauth.StartCallbackServer(app.cfg.OAuth.RedirectAddr, state)
	if err != nil {
		return fmt.Errorf("start callback server: %w", err)
	}
	defer func() { _ = server.Close() }()

	authURL := oauth.AuthorizationURL(app.oauthConfig, server.RedirectURI(), state, verifier)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser to authorize gpool:\n%s\n\nWaiting for the callback on %s...\n", authURL, server.RedirectURI())

	code, err := server.WaitForCode(cmd.Context(), app.loginTimeout)
	if err != nil {
		return fmt.Errorf("wait for oauth callback: %w", err)
	}

	token, err := oauth.Exchange(cmd.Context(), app.oauthConfig, app.upstream.HTTPClient(), server.RedirectURI(), code, verifier)
	if err != nil {
		return fmt.Errorf("exchange code for tokens: %w", err)
	}

	record := domain.CredentialRecord{ID: id, ProjectID: projectID, Token: token}
	if err := app.store.Save(cmd.Context(), record); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved credential %s to %s\n", id, app.store.Root())
	return nil
}

func credentialID(app *app, projectID, name string) domain.AccountID {
	switch {
	case name != "":
		return credentialsfile.FileName(name)
	case projectID != "":
		return credentialsfile.FileName(projectID)
	default:
		return credentialsfile.FileName("account-" + app.now().UTC().Format("20060102-150405"))
	}
}
