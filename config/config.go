package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageType defines the type of storage backend to use for device sessions,
// users and issued credentials.
type StorageType string

const (
	StorageTypeMemory  StorageType = "memory"
	StorageTypeMongoDB StorageType = "mongodb"
	StorageTypeRedis   StorageType = "redis"
)

// Config holds all configuration for the device authorization server.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	BaseURL   string `mapstructure:"base_url"` // public base URL, used to build the verification URI
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	StorageBackend StorageType `mapstructure:"storage_backend"`
	MongoURI       string      `mapstructure:"mongo_uri"`
	MongoDBName    string      `mapstructure:"mongo_db_name"`
	RedisAddr      string      `mapstructure:"redis_addr"`
	RedisPassword  string      `mapstructure:"redis_password"`

	DeviceCodeTTL   time.Duration `mapstructure:"device_code_ttl"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SessionTokenTTL time.Duration `mapstructure:"session_token_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	DefaultScope    string        `mapstructure:"default_scope"`
}

// LoadConfig loads configuration from file and environment variables.
// Environment variables use the GENAUTH_ prefix, e.g. GENAUTH_HTTP_ADDR.
func LoadConfig() (Config, error) {
	viper.SetConfigName("genauth_config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/genauth/")
	viper.AddConfigPath("$HOME/.genauth")

	viper.SetEnvPrefix("GENAUTH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("http_addr", "0.0.0.0:8080")
	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_pretty", false)
	viper.SetDefault("storage_backend", string(StorageTypeMemory))
	viper.SetDefault("mongo_uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo_db_name", "genauth")
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("device_code_ttl", "30m")
	viper.SetDefault("poll_interval", "5s")
	viper.SetDefault("session_token_ttl", "720h") // 30 days
	viper.SetDefault("janitor_interval", "5m")
	viper.SetDefault("default_scope", "openid profile email")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
		// No config file is fine, defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}
