// Package config loads the application configuration from defaults, an
// optional config file and VOICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOICE"

const (
	ModeVAD        = "vad"
	ModeContinuous = "continuous"
)

type AppConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	LogLevel     string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	SettingsPath string `mapstructure:"settings_path" validate:"required"`
	// MetricsAddr is empty to disable the metrics endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`
	Mode        string `mapstructure:"mode" validate:"oneof=vad continuous"`

	SampleRate int     `mapstructure:"sample_rate" validate:"gt=0"`
	FFTSize    int     `mapstructure:"fft_size" validate:"gte=32"`
	Smoothing  float64 `mapstructure:"smoothing" validate:"gte=0,lt=1"`

	SilenceThreshold float64       `mapstructure:"silence_threshold" validate:"gt=0,lte=255"`
	CheckInterval    time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	SilenceDuration  time.Duration `mapstructure:"silence_duration" validate:"gt=0"`

	MinUtteranceBytes      int           `mapstructure:"min_utterance_bytes" validate:"gte=0"`
	MaxConversationEntries int           `mapstructure:"max_conversation_entries" validate:"gt=0"`
	ContinuousSegment      time.Duration `mapstructure:"continuous_segment" validate:"gt=0"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	DefaultReply           string        `mapstructure:"default_reply" validate:"required"`
}

// InitConfig builds the viper instance. configFile may be empty.
func InitConfig(configFile string) (*viper.Viper, error) {
	v := viper.New()

	setDefault(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return v, nil
	}

	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configFile, err)
	}

	return v, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("settings_path", "voice-settings.json")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("mode", ModeVAD)

	v.SetDefault("sample_rate", 16000)
	v.SetDefault("fft_size", 256)
	v.SetDefault("smoothing", 0.8)

	v.SetDefault("silence_threshold", 15.0)
	v.SetDefault("check_interval", 100*time.Millisecond)
	v.SetDefault("silence_duration", 1500*time.Millisecond)

	v.SetDefault("min_utterance_bytes", 1000)
	v.SetDefault("max_conversation_entries", 10)
	v.SetDefault("continuous_segment", time.Second)
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("default_reply", "Received your message, but no response from n8n.")
}

// GetApplicationConfig decodes and validates v.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	if v == nil {
		return nil, errors.New("viper is nil")
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, fmt.Errorf("invalid config: fft_size %d is not a power of two", cfg.FFTSize)
	}

	return &cfg, nil
}

// Load is InitConfig followed by GetApplicationConfig.
func Load(configFile string) (*AppConfig, error) {
	v, err := InitConfig(configFile)
	if err != nil {
		return nil, err
	}
	return GetApplicationConfig(v)
}
