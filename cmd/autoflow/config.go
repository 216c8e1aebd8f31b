package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/autoflow/internal/ai"
	"github.com/rendis/autoflow/internal/isolation"
)

// Config holds all autoflow configuration.
// Priority: flags > AUTOFLOW_* env vars > config file > defaults.
type Config struct {
	DBPath      string `mapstructure:"db_path"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	PoolSize    int    `mapstructure:"pool_size"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	HTTP struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"http"`
	Script struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"script"`

	Paths isolation.PathPolicy `mapstructure:"paths"`

	Vault struct {
		Passphrase string `mapstructure:"passphrase"`
		Salt       string `mapstructure:"salt"`
	} `mapstructure:"vault"`

	AI struct {
		Providers []ai.OpenAIConfig `mapstructure:"providers"`
	} `mapstructure:"ai"`
}

func autoflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("db_path", filepath.Join(autoflowDir(), "autoflow.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pool_size", 10)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("script.timeout", 5*time.Second)
	v.SetDefault("vault.salt", "autoflow-vault")

	v.SetEnvPrefix("AUTOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig layers defaults, the config file, env vars and the root
// persistent flags.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	v := newViper()

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("autoflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(autoflowDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
		v.Set("db_path", f.Value.String())
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("log_level", f.Value.String())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	return &cfg, nil
}

// dsn turns a plain path into the file URI the libSQL driver expects.
func dsn(dbPath string) string {
	if strings.Contains(dbPath, ":") && !filepath.IsAbs(dbPath) {
		return dbPath
	}
	return "file:" + dbPath
}
