// Package config provides configuration management for confsync.
// It supports a YAML configuration file, environment variables (including a
// local .env file), and command-line overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/klauern/confsync/internal/util"
)

// APIVersion selects which Confluence REST API generation a session uses.
type APIVersion string

const (
	// APIVersionV1 is the classic REST API ("rest/api"), offset pagination.
	APIVersionV1 APIVersion = "v1"
	// APIVersionV2 is the current REST API ("api/v2"), cursor pagination.
	APIVersionV2 APIVersion = "v2"
)

// ConfigError reports missing or malformed credentials or site metadata.
// It is fatal at startup, before any network call.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// NewConfigError creates a configuration error with the given message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Connection holds everything needed to open a Confluence session.
type Connection struct {
	// Domain is the Confluence organization domain, a bare host name.
	Domain string `yaml:"domain" validate:"omitempty,hostname"`
	// BasePath is the base path of the Confluence site (default "/wiki/").
	BasePath string `yaml:"base_path"`
	// APIURL overrides the discovered API URL; required for scoped tokens.
	APIURL string `yaml:"api_url" validate:"omitempty,url"`
	// Username is the Confluence user name; when set, basic auth is used,
	// otherwise the API key is sent as a bearer token.
	Username string `yaml:"username"`
	// APIKey is the Confluence API token.
	APIKey string `yaml:"api_key" validate:"required"`
	// SpaceKey is the default space for new pages.
	SpaceKey string `yaml:"space_key"`
	// APIVersion selects the adapter generation; defaults to v2.
	APIVersion APIVersion `yaml:"api_version" validate:"omitempty,oneof=v1 v2"`
	// Headers are additional HTTP headers passed on every request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Publish holds options controlling a publish run.
type Publish struct {
	// RootPageID anchors documents without an explicit page ID.
	RootPageID string `yaml:"root_page_id"`
	// TitlePrefix is prepended to every generated page title.
	TitlePrefix string `yaml:"title_prefix"`
	// IgnoreFile is the name of the per-directory exclusion rule file.
	IgnoreFile string `yaml:"ignore_file"`
	// KeepLabels keeps remote labels not declared in front matter.
	KeepLabels bool `yaml:"keep_labels"`
	// DryRun resolves identity and reports changes without writing.
	DryRun bool `yaml:"dry_run"`
}

// Config is the complete confsync configuration.
type Config struct {
	Connection Connection `yaml:"connection"`
	Publish    Publish    `yaml:"publish"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Connection: Connection{
			BasePath:   "/wiki/",
			APIVersion: APIVersionV2,
		},
		Publish: Publish{
			IgnoreFile: ".csignore",
		},
	}
}

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(util.ConfigPath(), configFileName)
}

// Load loads the configuration from file, merging with defaults and applying
// environment variables. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	configPath := FilePath()
	// #nosec G304 - configPath is constructed from trusted config directory
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	cfg.ApplyEnvironment()
	return cfg, nil
}

// ApplyEnvironment overrides configuration with environment variables. A
// local .env file is honored when present.
func (c *Config) ApplyEnvironment() {
	_ = godotenv.Load()

	setIfEnv(&c.Connection.Domain, "CONFLUENCE_DOMAIN")
	setIfEnv(&c.Connection.BasePath, "CONFLUENCE_PATH")
	setIfEnv(&c.Connection.APIURL, "CONFLUENCE_API_URL")
	setIfEnv(&c.Connection.Username, "CONFLUENCE_USER_NAME")
	setIfEnv(&c.Connection.APIKey, "CONFLUENCE_API_KEY")
	setIfEnv(&c.Connection.SpaceKey, "CONFLUENCE_SPACE_KEY")

	switch os.Getenv("CONFLUENCE_API_VERSION") {
	case "v1":
		c.Connection.APIVersion = APIVersionV1
	case "v2":
		c.Connection.APIVersion = APIVersionV2
	}
}

func setIfEnv(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

// Validate checks the connection settings before a session is opened, on top
// of struct tag validation.
func (c *Config) Validate() error {
	if c.Connection.APIKey == "" {
		return NewConfigError("Confluence API key not specified")
	}
	if c.Connection.APIURL == "" && c.Connection.Domain == "" {
		return NewConfigError("Confluence API URL or domain required")
	}
	if c.Connection.Domain != "" {
		if strings.HasPrefix(c.Connection.Domain, "http://") ||
			strings.HasPrefix(c.Connection.Domain, "https://") ||
			strings.HasSuffix(c.Connection.Domain, "/") {
			return NewConfigError("Confluence domain looks like a URL; only host name required")
		}
	}
	if c.Connection.BasePath != "" {
		if !strings.HasPrefix(c.Connection.BasePath, "/") || !strings.HasSuffix(c.Connection.BasePath, "/") {
			return NewConfigError("Confluence base path must start and end with a '/'")
		}
	}
	if c.Connection.APIVersion == "" {
		c.Connection.APIVersion = APIVersionV2
	}

	validate := validator.New()
	if err := validate.Struct(c.Connection); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			return NewConfigError("invalid connection setting %s: failed %s validation", field.Field(), field.Tag())
		}
		return err
	}
	return nil
}
