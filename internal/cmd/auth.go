package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/credentials"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/session"
)

var refreshToken string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token <access-token>",
	Short: "Save an access token",
	Long:  "Save an access token issued by the Sidechain backend. The user id and expiry are read from the token.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := session.ParseClaims(args[0])
		if err != nil {
			return err
		}
		if claims.UserID == "" {
			return serrors.AuthError("Access token has no subject")
		}
		creds := &credentials.Credentials{
			AccessToken:  args[0],
			RefreshToken: refreshToken,
			ExpiresAt:    claims.ExpiresAt,
			UserID:       claims.UserID,
		}
		if creds.IsExpired() {
			return serrors.AuthError("Access token has expired")
		}
		if err := credentials.Save(creds); err != nil {
			return err
		}
		printer().Success("Signed in as %s", claims.UserID)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials.Load()
		if err != nil {
			return err
		}
		if creds == nil {
			return serrors.AuthError("Not signed in").
				WithSuggestion("Run 'sidechain-sync auth set-token <token>'")
		}
		state := "valid"
		if creds.IsExpired() {
			state = "expired"
		}
		return printer().PrintRecord("Session", map[string]interface{}{
			"user_id":    creds.UserID,
			"expires_at": stamp(creds.ExpiresAt),
			"state":      state,
		})
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credentials.Delete(); err != nil {
			return err
		}
		printer().Success("Signed out")
		return nil
	},
}

func init() {
	authSetTokenCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token to store alongside")

	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}
