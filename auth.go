package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-go/internal/config"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// spinnerInterval is the redraw rate of the "waiting for browser" spinner.
const spinnerInterval = 100 * time.Millisecond

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize zotero-go against your Zotero account",
		Long: `Open the Zotero authorization page in a browser and store the resulting
API key. If the browser cannot be opened the URL is printed instead.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API key",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the authorized Zotero user",
		RunE:  runWhoami,
	}

	cmd.Flags().Bool("verify", false, "check the stored key against the server")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, interrupt := withInterrupt(cmd.Context(), cc.Logger)

	if cc.Cfg.OAuth.ClientKey == "" || cc.Cfg.OAuth.ClientSecret == "" {
		return fmt.Errorf("OAuth client credentials missing; set [oauth] client_key/client_secret or %s/%s",
			config.EnvClientKey, config.EnvClientSecret)
	}

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	interrupt.OnInterrupt(session.Flow.Cancel)

	cc.Logger.Info("login started")

	var s *spinner.Spinner
	if !cc.Flags.Quiet && !cc.Flags.JSON {
		s = spinner.New(spinner.CharSets[14], spinnerInterval, spinner.WithWriter(os.Stderr))
		s.Suffix = " Waiting for authorization in your browser..."
		s.Start()
	}

	info, err := session.Flow.Authorize(ctx)

	if s != nil {
		s.Stop()
	}

	if err != nil {
		if errors.Is(err, zotero.ErrAuthorizationCancelled) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("authorization was cancelled")
		}

		return err
	}

	cc.Logger.Info("login successful", "user_id", info.UserID)

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), info)
	}

	cc.Statusf("Logged in as %s.\n", info.Username)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	session, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Creds.Clear(cmd.Context()); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username string             `json:"username"`
	UserID   string             `json:"userID"`
	Access   *zotero.UserAccess `json:"access,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	cred, err := session.requireCredential(ctx)
	if err != nil {
		return err
	}

	out := whoamiOutput{Username: cred.Username, UserID: cred.UserID}

	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		info, _, err := session.API.VerifyKey(ctx, cred.UserID, cred.APIKey())
		if err != nil {
			return fmt.Errorf("verifying key: %w", err)
		}

		out.Access = info.Access.User
		if info.Username != "" {
			out.Username = info.Username
		}
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "User:    %s\n", out.Username)
	fmt.Fprintf(w, "User ID: %s\n", out.UserID)

	if out.Access != nil {
		fmt.Fprintf(w, "Access:  library=%t files=%t notes=%t write=%t\n",
			out.Access.Library, out.Access.Files, out.Access.Notes, out.Access.Write)
	}

	return nil
}
