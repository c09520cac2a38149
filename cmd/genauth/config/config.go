// Package config holds the CLI configuration, loaded from
// $HOME/.genauth/config.yaml and GENAUTH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName        = "genauth"
	ConfigFileName = "config"
	ConfigFileType = "yaml"

	defaultServerURL = "http://localhost:8080"
)

// CLIConfig holds the CLI settings.
type CLIConfig struct {
	ServerURL string `mapstructure:"server_url"`
	TokenFile string `mapstructure:"token_file"` // optional override of the token cache path
}

var (
	GlobalConfig *CLIConfig
	CfgFile      string // path of the config file in use, settable by flag
)

// InitConfig initializes viper and loads the CLI configuration. Called by the
// root command before any subcommand runs.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath := filepath.Join(home, "."+AppName)

		viper.AddConfigPath(configPath)
		viper.SetConfigName(ConfigFileName)
		viper.SetConfigType(ConfigFileType)
	}

	viper.SetEnvPrefix("GENAUTH")
	viper.AutomaticEnv()
	viper.SetDefault("server_url", defaultServerURL)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars apply.
	}

	GlobalConfig = &CLIConfig{}
	if err := viper.Unmarshal(GlobalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
