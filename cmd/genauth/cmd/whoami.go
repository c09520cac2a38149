package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/genauth-dev/genauth/cmd/genauth/client"
	"github.com/genauth-dev/genauth/cmd/genauth/config"
	"github.com/genauth-dev/genauth/cmd/genauth/tokencache"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the currently authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cache, err := openTokenCache()
		if err != nil {
			return err
		}

		token, err := cache.RequireAuth()
		if err != nil {
			if errors.Is(err, tokencache.ErrNotAuthenticated) {
				return fmt.Errorf("not logged in, run '%s login' first", config.AppName)
			}
			return err
		}

		c := client.New(config.GlobalConfig.ServerURL)

		user, err := c.UserInfo(ctx, token.AccessToken)
		if err != nil {
			if errors.Is(err, client.ErrUnauthenticated) {
				// The server rejected the token, so the local copy is stale.
				if clearErr := cache.Clear(); clearErr != nil {
					appLogger.Warn(ctx, "Failed to clear stale credential", map[string]interface{}{
						"error": clearErr.Error(),
					})
				}
				return fmt.Errorf("session is no longer valid, run '%s login' again", config.AppName)
			}
			return err
		}

		if user.Name != "" {
			fmt.Printf("%s <%s>\n", user.Name, user.Email)
		} else {
			fmt.Println(user.Email)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
