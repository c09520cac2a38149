package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/genauth-dev/genauth/cmd/genauth/config"
	"github.com/genauth-dev/genauth/cmd/genauth/tokencache"
	"github.com/genauth-dev/genauth/log"
)

var (
	appLogger  log.Logger
	serverFlag string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           config.AppName,
	Short:         "genauth authenticates this machine against a genauth server",
	Long:          `A command-line client for the genauth device authorization flow: log in by approving a short code in your browser, then use the cached credential for authenticated commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		appLogger = log.NewZerologAdapter(level, true)

		if err := config.InitConfig(); err != nil {
			appLogger.Error(cmd.Context(), "Failed to initialize configuration", err)
			return err
		}
		if serverFlag != "" {
			config.GlobalConfig.ServerURL = serverFlag
		}
		return nil
	},
}

// Execute runs the root command. Any command error exits with status 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ctx := context.Background()
		if appLogger != nil {
			appLogger.Debug(ctx, "command failed", map[string]interface{}{"error": err.Error()})
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openTokenCache builds the token cache, honoring the token_file override.
func openTokenCache() (*tokencache.Cache, error) {
	if config.GlobalConfig != nil && config.GlobalConfig.TokenFile != "" {
		return tokencache.NewAt(config.GlobalConfig.TokenFile), nil
	}
	return tokencache.New()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		fmt.Sprintf("config file (default is $HOME/.%s/config.yaml)", config.AppName))
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
