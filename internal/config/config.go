// Package config loads settings from an optional YAML file, .env files and
// REGIONTRAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/valpere/regiontran/internal/catalog"
	"github.com/valpere/regiontran/internal/translator"
)

const EnvPrefix = "REGIONTRAN"

type Config struct {
	Catalog          []catalog.EndpointConfig
	MaxRetries       int
	RetryDelay       time.Duration
	Debounce         time.Duration
	LiveInterval     time.Duration
	ValidateLanguage bool
	Credentials      translator.Credentials
	DBPath           string
	Account          string
	EnforceCredits   bool
	LogLevel         string
	Env              string
	// File is the config file that was read, empty when none was found.
	File string
}

func ms(n int) *int { return &n }

// DefaultCatalog is used when no catalog is configured: a fast hosted model,
// a stronger hosted model, and a local model that is never timed out.
func DefaultCatalog() []catalog.EndpointConfig {
	return []catalog.EndpointConfig{
		{ID: "fast", Kind: "openrouter", Model: "google/gemini-2.5-flash", TimeoutMs: ms(8000), Streaming: true, Images: true},
		{ID: "balanced", Kind: "openrouter", Model: "qwen/qwen2.5-vl-72b-instruct", TimeoutMs: ms(15000), Streaming: true, Images: true},
		{ID: "local", Kind: "ollama", Model: "gemma3:12b", Streaming: true, Images: true},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay_ms", 1000)
	v.SetDefault("debounce_ms", 800)
	v.SetDefault("live_interval_ms", 3000)
	v.SetDefault("validate_language", false)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("db_path", "./data/regiontran.db")
	v.SetDefault("account", "default")
	v.SetDefault("credits.enforce", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("env", "production")
}

// bindEnv maps keys to their prefixed variable and, for credentials, to the
// name the provider's own tooling uses.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"openrouter.api_key": {"OPENROUTER_API_KEY"},
		"google.credentials": {"GOOGLE_APPLICATION_CREDENTIALS"},
		"lambda.region":      {"AWS_REGION"},
	}
	for key, extra := range bindings {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, extra...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings but no
// file read yet.
func New() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadDotEnv reads .env.local and .env from the working directory. Values
// already in the environment win; .env.local wins over .env.
func LoadDotEnv() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

// Load reads configFile, or ./regiontran.yaml when configFile is empty, into v
// and decodes the result. A missing default file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("regiontran")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Decode(v)
}

// Decode builds a Config from the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		MaxRetries:       v.GetInt("max_retries"),
		RetryDelay:       time.Duration(v.GetInt("retry_delay_ms")) * time.Millisecond,
		Debounce:         time.Duration(v.GetInt("debounce_ms")) * time.Millisecond,
		LiveInterval:     time.Duration(v.GetInt("live_interval_ms")) * time.Millisecond,
		ValidateLanguage: v.GetBool("validate_language"),
		Credentials: translator.Credentials{
			OpenRouterAPIKey:  v.GetString("openrouter.api_key"),
			OpenRouterBaseURL: v.GetString("openrouter.base_url"),
			OllamaBaseURL:     v.GetString("ollama.base_url"),
			GoogleCredentials: v.GetString("google.credentials"),
			MyMemoryEmail:     v.GetString("mymemory.email"),
			LambdaRegion:      v.GetString("lambda.region"),
		},
		DBPath:         v.GetString("db_path"),
		Account:        v.GetString("account"),
		EnforceCredits: v.GetBool("credits.enforce"),
		LogLevel:       v.GetString("log.level"),
		Env:            v.GetString("env"),
		File:           v.ConfigFileUsed(),
	}

	if err := v.UnmarshalKey("catalog", &cfg.Catalog); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = DefaultCatalog()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.MaxRetries < 1:
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	case c.RetryDelay < 0:
		return fmt.Errorf("retry_delay_ms must not be negative")
	case c.Debounce <= 0:
		return fmt.Errorf("debounce_ms must be positive")
	case c.LiveInterval <= 0:
		return fmt.Errorf("live_interval_ms must be positive")
	}
	return nil
}

// BuildCatalog validates the configured endpoints, including that a backend
// exists for every kind.
func (c *Config) BuildCatalog() (*catalog.Catalog, error) {
	cat, err := catalog.FromConfig(c.Catalog)
	if err != nil {
		return nil, err
	}
	if err := cat.RequireKinds(translator.Kinds()); err != nil {
		return nil, err
	}
	return cat, nil
}
