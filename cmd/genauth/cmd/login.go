package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/genauth-dev/genauth/cmd/genauth/client"
	"github.com/genauth-dev/genauth/cmd/genauth/config"
	"github.com/genauth-dev/genauth/cmd/genauth/tokencache"
)

var loginForce bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in via the device authorization flow",
	Long: `Starts a device authorization session, prints a short user code and
waits for you to approve it in your browser. On approval the issued
credential is stored locally for later commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cache, err := openTokenCache()
		if err != nil {
			return err
		}

		if !loginForce {
			if token := cache.Load(); token != nil && !token.Expired(time.Now()) {
				fmt.Println("Already logged in. Use --force to log in again.")
				return nil
			}
		}

		c := client.New(config.GlobalConfig.ServerURL)

		auth, err := c.StartDeviceAuthorization(ctx)
		if err != nil {
			return fmt.Errorf("could not start device authorization: %w", err)
		}

		fmt.Println()
		fmt.Printf("First, copy your one-time code: %s\n", auth.UserCode)
		if auth.VerificationURIComplete != "" {
			fmt.Printf("Then visit: %s\n", auth.VerificationURIComplete)
		} else {
			fmt.Printf("Then visit: %s\n", auth.VerificationURI)
		}
		fmt.Println()
		fmt.Println("Waiting for approval...")

		tokenResp, err := c.WaitForApproval(ctx, auth)
		if err != nil {
			switch {
			case errors.Is(err, client.ErrAccessDenied):
				return errors.New("login request was denied")
			case errors.Is(err, client.ErrExpired):
				return errors.New("login request expired before it was approved")
			case errors.Is(err, client.ErrAlreadyExchanged):
				return errors.New("this device code was already used")
			default:
				return fmt.Errorf("login failed: %w", err)
			}
		}

		now := time.Now()
		token := &tokencache.Token{
			AccessToken:  tokenResp.AccessToken,
			RefreshToken: tokenResp.RefreshToken,
			TokenType:    tokenResp.TokenType,
			Scope:        tokenResp.Scope,
			CreatedAt:    now,
		}
		if tokenResp.ExpiresIn > 0 {
			expiresAt := now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
			token.ExpiresAt = &expiresAt
		}

		if err := cache.Save(token); err != nil {
			return fmt.Errorf("login succeeded but saving the credential failed: %w", err)
		}

		fmt.Println("Login successful.")
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "log in even if a valid credential already exists")
	rootCmd.AddCommand(loginCmd)
}
