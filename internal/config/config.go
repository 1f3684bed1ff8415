package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App     App     `mapstructure:"app"`
	Mail    Mail    `mapstructure:"mail"`
	Ingest  Ingest  `mapstructure:"ingest"`
	AI      AI      `mapstructure:"ai"`
	Server  Server  `mapstructure:"server"`
	Persona Persona `mapstructure:"persona"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// Mail holds mail-source configuration
type Mail struct {
	CredentialsFile string   `mapstructure:"credentials_file"` // OAuth client credentials JSON
	TokenFile       string   `mapstructure:"token_file"`       // Cached OAuth token JSON
	Label           string   `mapstructure:"label"`            // Mailbox label fetched alongside registered senders
	NoteTag         string   `mapstructure:"note_tag"`         // Subject marker for tagged notes
	ExcludedSenders []string `mapstructure:"excluded_senders"` // Never surfaced by the discovery scan
}

// Ingest holds tunable pipeline parameters. These are operational knobs,
// not contract: defaults are set in Load and any of them can be overridden
// per deployment.
type Ingest struct {
	LookbackHours     int `mapstructure:"lookback_hours"`      // Rolling fetch window size
	NoteLookbackHours int `mapstructure:"note_lookback_hours"` // Window for tagged-note import
	StalenessHours    int `mapstructure:"staleness_hours"`     // Articles published longer ago are skipped
	BatchSize         int `mapstructure:"batch_size"`          // Parallel article extractions per batch
	MaxArticles       int `mapstructure:"max_articles"`        // Cap on candidate links per run
	MaxResults        int `mapstructure:"max_results"`         // Cap per mail-fetch query
	FallbackSenderCap int `mapstructure:"fallback_sender_cap"` // Max senders re-queried individually
	DiscoveryCap      int `mapstructure:"discovery_cap"`       // Message cap for the discovery scan
	DiscoveryMinCount int `mapstructure:"discovery_min_count"` // Min messages before a sender is surfaced
	DiscoveryFloor    int `mapstructure:"discovery_floor_days"` // Lookback floor for the discovery scan
}

// AI holds LLM configuration
type AI struct {
	Gemini Gemini `mapstructure:"gemini"`
}

// Gemini holds Google Gemini configuration
type Gemini struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	AdminToken   string        `mapstructure:"admin_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Persona holds personality-engine configuration
type Persona struct {
	DefaultLocale string `mapstructure:"default_locale"`
}

// Load reads configuration from .env, an optional config file, and the
// environment, and returns the populated Config.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	viper.SetConfigName("mailbrief")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}

	setDefaults()
	bindEnvironmentVariables()
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".mailbrief")

	viper.SetDefault("mail.credentials_file", "credentials.json")
	viper.SetDefault("mail.token_file", "token.json")
	viper.SetDefault("mail.label", "newsletters")
	viper.SetDefault("mail.note_tag", "[mb]")
	viper.SetDefault("mail.excluded_senders", []string{})

	viper.SetDefault("ingest.lookback_hours", 24)
	viper.SetDefault("ingest.note_lookback_hours", 72)
	viper.SetDefault("ingest.staleness_hours", 48)
	viper.SetDefault("ingest.batch_size", 10)
	viper.SetDefault("ingest.max_articles", 200)
	viper.SetDefault("ingest.max_results", 100)
	viper.SetDefault("ingest.fallback_sender_cap", 5)
	viper.SetDefault("ingest.discovery_cap", 500)
	viper.SetDefault("ingest.discovery_min_count", 2)
	viper.SetDefault("ingest.discovery_floor_days", 7)

	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.temperature", 0.9)
	viper.SetDefault("ai.gemini.max_tokens", 8192)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Minute)

	viper.SetDefault("persona.default_locale", "en")
}

// bindEnvironmentVariables maps well-known environment variable names onto
// viper keys, first match wins.
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys("mail.credentials_file", []string{"GMAIL_CREDENTIALS_FILE"})
	bindEnvKeys("mail.token_file", []string{"GMAIL_TOKEN_FILE"})
	bindEnvKeys("server.admin_token", []string{"MAILBRIEF_ADMIN_TOKEN", "ADMIN_TOKEN"})
	bindEnvKeys("app.debug", []string{"DEBUG", "MAILBRIEF_DEBUG"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}
