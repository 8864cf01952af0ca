package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	Meeting    Meeting    `mapstructure:"meeting"`
	Cleanup    Cleanup    `mapstructure:"cleanup"`
	Monitoring Monitoring `mapstructure:"monitoring"`
}

type Meeting struct {
	DefaultCapacity  int `mapstructure:"default_capacity"`
	RoomCodeAttempts int `mapstructure:"room_code_attempts"`
}

type Cleanup struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxIdle  time.Duration `mapstructure:"max_idle"`
}

type Monitoring struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	Pprof   bool `mapstructure:"pprof"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("meeting.default_capacity", 16)
	v.SetDefault("meeting.room_code_attempts", 5)
	v.SetDefault("cleanup.interval", "1m")
	v.SetDefault("cleanup.max_idle", "4h")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.port", 9090)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
