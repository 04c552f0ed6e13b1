package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

type Config struct {
	// Common settings
	Debug     bool   `mapstructure:"debug"`
	LogFile   string `mapstructure:"log_file"`
	CorpusDir string `mapstructure:"corpus_dir"`

	// Fetcher settings
	Fetcher FetcherConfig `mapstructure:"fetcher"`

	// Snapshot driver settings
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type FetcherConfig struct {
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	Workers  int           `mapstructure:"workers"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

func Init() (*viper.Viper, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file search paths
	v.SetConfigName("ccforms")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ccforms")
	v.AddConfigPath("/etc/ccforms")

	// Environment variable prefix
	v.SetEnvPrefix("BOCC")
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// If there's a config file but it's malformed, warn and continue with defaults
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v (using defaults)\n", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Common defaults
	v.SetDefault("debug", false)
	v.SetDefault("corpus_dir", path.Join(xdg.DataHome, "ccforms", "forms.d"))

	// Fetcher defaults
	v.SetDefault("fetcher.initial_wait", "3s")
	v.SetDefault("fetcher.max_wait", "300s")
	v.SetDefault("fetcher.timeout", "5m")

	// Snapshot driver defaults
	v.SetDefault("snapshot.workers", 8)
	v.SetDefault("snapshot.cooldown", "10s")
}
