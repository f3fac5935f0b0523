package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config contains all runtime settings for the chat relay service.
type Config struct {
	Port             int           `env:"PORT" envDefault:"3001"`
	BindHost         string        `env:"APP_BIND_HOST"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"garagechat"`

	// FrontendURL is the only browser origin allowed by the CORS policy and
	// the websocket origin check. "*" allows any origin.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	ResponderMode         string        `env:"RESPONDER_MODE" envDefault:"auto"`
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"`
	OpenAIModel           string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	CompletionMaxTokens   int           `env:"COMPLETION_MAX_TOKENS" envDefault:"500"`
	CompletionTemperature float64       `env:"COMPLETION_TEMPERATURE" envDefault:"0.7"`
	CompletionTimeout     time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"15s"`

	DatabaseURL string `env:"DATABASE_URL"`

	WSOutboundBuffer int `env:"WS_OUTBOUND_BUFFER" envDefault:"64"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// ClientConfig holds the settings of the terminal chat client.
type ClientConfig struct {
	APIURL string `env:"CHAT_API_URL" envDefault:"http://localhost:3001"`
	WSURL  string `env:"CHAT_WS_URL" envDefault:"ws://localhost:3001/ws"`
	APIKey string `env:"CHAT_API_KEY"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.ResponderMode = strings.ToLower(strings.TrimSpace(cfg.ResponderMode))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient reads the chat client settings.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT must be in 1..65535", ErrInvalidConfig)
	}
	if c.CompletionTimeout < time.Second {
		return fmt.Errorf("%w: COMPLETION_TIMEOUT must be at least 1s", ErrInvalidConfig)
	}
	if c.CompletionMaxTokens <= 0 {
		return fmt.Errorf("%w: COMPLETION_MAX_TOKENS must be positive", ErrInvalidConfig)
	}
	if c.CompletionTemperature < 0 || c.CompletionTemperature > 2 {
		return fmt.Errorf("%w: COMPLETION_TEMPERATURE must be in [0, 2]", ErrInvalidConfig)
	}
	if c.WSOutboundBuffer <= 0 {
		return fmt.Errorf("%w: WS_OUTBOUND_BUFFER must be positive", ErrInvalidConfig)
	}
	switch c.ResponderMode {
	case "", "auto", "completion", "keyword":
	default:
		return fmt.Errorf("%w: RESPONDER_MODE %q (expected auto|completion|keyword)", ErrInvalidConfig, c.ResponderMode)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
	}
	return nil
}

// BindAddr is the listen address derived from APP_BIND_HOST and PORT.
func (c Config) BindAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.Port))
}

// CompletionEnabled reports whether a hosted completion credential is present.
func (c Config) CompletionEnabled() bool {
	return c.OpenAIAPIKey != "" && c.ResponderMode != "keyword"
}
