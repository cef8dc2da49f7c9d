// Package config loads shopagent settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Workflow string `mapstructure:"workflow"`
	Items    string `mapstructure:"items"`

	LLM struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
		APIKey   string `mapstructure:"api_key"`
	} `mapstructure:"llm"`

	QueryAgent struct {
		URL         string   `mapstructure:"url"`
		Token       string   `mapstructure:"token"`
		Collections []string `mapstructure:"collections"`
		Limit       int      `mapstructure:"limit"`
		RateLimit   float64  `mapstructure:"rate_limit"`
	} `mapstructure:"query_agent"`

	Catalog struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"catalog"`

	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Engine struct {
		MaxSteps    int           `mapstructure:"max_steps"`
		StepTimeout time.Duration `mapstructure:"step_timeout"`
		ParkTimeout time.Duration `mapstructure:"park_timeout"`
	} `mapstructure:"engine"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Tracing struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"tracing"`
}

var defaults = map[string]any{
	"workflow":                "admin",
	"items":                   "new_clothing_items.json",
	"llm.provider":            "openai",
	"llm.model":               "",
	"llm.api_key":             "",
	"query_agent.url":         "http://localhost:8081/query",
	"query_agent.token":       "",
	"query_agent.collections": []string{"ECommerce"},
	"query_agent.limit":       10,
	"query_agent.rate_limit":  0.0,
	"catalog.driver":          "sqlite",
	"catalog.dsn":             "catalog.db",
	"store.driver":            "sqlite",
	"store.dsn":               "runs.db",
	"engine.max_steps":        50,
	"engine.step_timeout":     "2m",
	"engine.park_timeout":     "0s",
	"log.level":               "info",
	"log.format":              "text",
	"server.addr":             ":8080",
	"tracing.enabled":         false,
}

// EnvPrefix prefixes environment overrides, e.g. SHOPAGENT_LLM_API_KEY.
const EnvPrefix = "SHOPAGENT"

// Load reads path, or config.yaml from the working directory or ./config
// when path is empty, and applies environment overrides. A missing default
// config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value string
		allow []string
	}{
		{"workflow", c.Workflow, []string{"qa", "admin"}},
		{"llm.provider", c.LLM.Provider, []string{"openai", "anthropic", "google"}},
		{"catalog.driver", c.Catalog.Driver, []string{"sqlite", "mysql", "postgres"}},
		{"store.driver", c.Store.Driver, []string{"memory", "sqlite", "mysql"}},
		{"log.level", c.Log.Level, []string{"debug", "info", "warn", "error"}},
		{"log.format", c.Log.Format, []string{"text", "json"}},
	}
	for _, chk := range checks {
		if !contains(chk.allow, chk.value) {
			return fmt.Errorf("invalid %s %q (want one of %s)", chk.name, chk.value, strings.Join(chk.allow, ", "))
		}
	}
	if c.Engine.MaxSteps < 0 || c.Engine.StepTimeout < 0 || c.Engine.ParkTimeout < 0 {
		return errors.New("engine limits must not be negative")
	}
	return nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
