package main

import (
	"errors"
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/spf13/cobra"
)

var linkOpts struct {
	owner        string
	provider     string
	email        string
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
	scopes       []string
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Store a token pair obtained from a consent flow",
	Long: `Stores the access and refresh token produced by an OAuth consent flow for
an owner. Linking an identity that is already stored replaces its token pair and
clears any pending reconnection.`,
	Args: cobra.NoArgs,
	RunE: runLink,
}

func init() {
	f := linkCmd.Flags()
	f.StringVar(&linkOpts.owner, "owner", "", "owner id (required)")
	f.StringVar(&linkOpts.provider, "provider", "", "provider name (default from config)")
	f.StringVar(&linkOpts.email, "email", "", "provider identity, usually the account email (required)")
	f.StringVar(&linkOpts.accessToken, "access-token", "", "access token (required)")
	f.StringVar(&linkOpts.refreshToken, "refresh-token", "", "refresh token")
	f.DurationVar(&linkOpts.expiresIn, "expires-in", time.Hour, "access token lifetime from now")
	f.StringSliceVar(&linkOpts.scopes, "scopes", nil, "granted scopes")
	for _, name := range []string{"owner", "email", "access-token"} {
		_ = linkCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, _ []string) error {
	if linkOpts.expiresIn <= 0 {
		return errors.New("--expires-in must be positive")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	providerName := linkOpts.provider
	if providerName == "" {
		providerName = a.cfg.Provider.Name
	}
	expiry := time.Now().Add(linkOpts.expiresIn)

	acc, err := a.store.Link(cmd.Context(), &accounts.Account{
		OwnerID:          linkOpts.owner,
		Provider:         providerName,
		ProviderIdentity: linkOpts.email,
		AccessToken:      linkOpts.accessToken,
		RefreshToken:     linkOpts.refreshToken,
		Scopes:           linkOpts.scopes,
		Expiry:           &expiry,
	})
	if err != nil {
		return err
	}

	cmd.Printf("Linked %s (%s) for owner %s as %s\n", acc.ProviderIdentity, acc.Provider, acc.OwnerID, acc.ID)
	if !acc.HasRefreshToken() {
		cmd.Println("Warning: no refresh token stored; the account will need reconnecting once the token expires.")
	}
	return nil
}
