package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/genauth-dev/genauth/cmd/genauth/client"
	"github.com/genauth-dev/genauth/cmd/genauth/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the cached credential",
	Long: `Revokes the server-side session for the cached credential and removes
the local token file. Logging out when not logged in is not an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cache, err := openTokenCache()
		if err != nil {
			return err
		}

		if token := cache.Load(); token != nil {
			c := client.New(config.GlobalConfig.ServerURL)
			if err := c.Revoke(ctx, token.AccessToken); err != nil {
				// Best effort. The local credential is removed either way and
				// the server session still dies at its TTL.
				appLogger.Warn(ctx, "Failed to revoke server-side session", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}

		if err := cache.Clear(); err != nil {
			return err
		}

		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
