package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/localmodel"
	"github.com/starford/ansuz/internal/router"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App           ApplicationConfig   `yaml:"app" toml:"app"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Routing       RoutingConfig       `yaml:"routing" toml:"routing"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Local         LocalConfig         `yaml:"local" toml:"local"`
	Inbox         InboxConfig         `yaml:"inbox" toml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := c.Transcription.Validate(); err != nil {
		return err
	}
	if err := c.Local.Validate(); err != nil {
		return err
	}
	if !c.Routing.UseRemote && c.Local.BaseURL == "" {
		return errors.New("local: base_url is required when routing.use_remote is false")
	}
	return c.Inbox.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	// LogFile, when set, receives a rotated copy of the JSON log stream.
	LogFile string     `yaml:"log_file" toml:"log_file"`
	HTTP    HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds gateway authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// RoutingConfig is the default routing context used when a caller does not
// supply its own.
type RoutingConfig struct {
	ServerURL string `yaml:"server_url" toml:"server_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	UseRemote bool   `yaml:"use_remote" toml:"use_remote"`
}

// Context converts the section into a router.RoutingContext.
func (c *RoutingConfig) Context() router.RoutingContext {
	return router.RoutingContext{ServerURL: c.ServerURL, APIKey: c.APIKey, UseRemote: c.UseRemote}
}

// Validate validates the routing configuration.
func (c *RoutingConfig) Validate() error {
	if err := c.Context().Validate(); err != nil {
		return fmt.Errorf("routing: %w", err)
	}
	return nil
}

// TranscriptionConfig holds the transcription service address.
type TranscriptionConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// Validate validates the transcription configuration.
func (c *TranscriptionConfig) Validate() error {
	if c.URL == "" {
		c.URL = router.DefaultTranscriptionURL
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
	)
}

// LocalConfig configures the local model backend. Models maps a local task
// identifier (classify, tags, folders, name, relationships, format, chunks,
// vision, transcribe) to a model name.
type LocalConfig struct {
	BaseURL string            `yaml:"base_url" toml:"base_url"`
	Models  map[string]string `yaml:"models" toml:"models"`
	Timeout time.Duration     `yaml:"timeout" toml:"timeout"`
}

// Validate validates the local backend configuration.
func (c *LocalConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	for task := range c.Models {
		if _, err := localmodel.ParseTask(task); err != nil {
			return fmt.Errorf("local: models: %w", err)
		}
	}
	return nil
}

// Resolver returns the task→model table.
func (c *LocalConfig) Resolver() localmodel.StaticResolver {
	r := make(localmodel.StaticResolver, len(c.Models))
	for task, model := range c.Models {
		r[localmodel.Task(task)] = model
	}
	return r
}

// InboxConfig configures the inbox suggestion pipeline.
type InboxConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled"`
	VaultPath   string   `yaml:"vault_path" toml:"vault_path"`
	InboxFolder string   `yaml:"inbox_folder" toml:"inbox_folder"`
	Templates   []string `yaml:"templates" toml:"templates"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.VaultPath, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.InboxFolder, validation.When(c.Enabled, validation.Required)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Transcription: TranscriptionConfig{
			URL: router.DefaultTranscriptionURL,
		},
		Local: LocalConfig{
			BaseURL: "http://localhost:11434",
			Timeout: 2 * time.Minute,
			Models:  map[string]string{},
		},
		Inbox: InboxConfig{
			VaultPath:   "./vault",
			InboxFolder: "Inbox",
		},
	}
}
