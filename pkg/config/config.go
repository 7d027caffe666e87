// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-core-stack/mcp-process-bridge/pkg/auth"
)

const (
	envConfigFile             = "MCP_CONFIG_FILE"
	envPort                   = "PORT"
	envListenHost             = "MCP_LISTEN_HOST"
	envServiceName            = "MCP_SERVICE_NAME"
	envServiceVersion         = "MCP_SERVICE_VERSION"
	envHelperCommand          = "MCP_HELPER_COMMAND"
	envHelperArgs             = "MCP_HELPER_ARGS"
	envHelperWaitDelay        = "MCP_HELPER_WAIT_DELAY"
	envAPIName                = "API_NAME"
	envAPIBaseURL             = "API_BASE_URL"
	envAPISpecPath            = "API_SPEC_PATH"
	envAPILogLevel            = "LOG_LEVEL"
	envOperationPrompts       = "ENABLE_OPERATION_PROMPTS"
	envCredentialPrimary      = "MCP_CREDENTIAL_PRIMARY"
	envCredentialSecondary    = "MCP_CREDENTIAL_SECONDARY"
	envLogLevel               = "MCP_LOG_LEVEL"
	envServerReadTimeout      = "MCP_SERVER_READ_TIMEOUT"
	envServerWriteTimeout     = "MCP_SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout      = "MCP_SERVER_IDLE_TIMEOUT"
	envGracefulShutdown       = "MCP_GRACEFUL_SHUTDOWN"
	defaultPort               = 8080
	defaultServiceName        = "telnyx-mcp-server"
	defaultServiceVersion     = "1.0.0"
	defaultHelperCommand      = "uvx"
	defaultHelperArgs         = "awslabs.openapi-mcp-server@latest"
	defaultHelperWaitDelay    = 5 * time.Second
	defaultAPIName            = "telnyx"
	defaultAPIBaseURL         = "https://api.telnyx.com/v2"
	defaultAPISpecPath        = "./telnyx.yml"
	defaultAPILogLevel        = "INFO"
	defaultCredentialPrimary  = "TELNYX_API_KEY"
	defaultCredentialSecond   = "API_KEY"
	defaultLogLevel           = "info"
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerIdleTimeout  = 120 * time.Second
	defaultGracefulShutdown   = 10 * time.Second
)

// Config captures runtime settings for the bridge. It is built once at
// startup and passed by value to every component that needs it.
type Config struct {
	Port           int    `yaml:"port"`
	ListenHost     string `yaml:"listen_host"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	LogLevel       string `yaml:"log_level"`

	Helper     HelperConfig     `yaml:"helper"`
	API        APIConfig        `yaml:"api"`
	Credential CredentialConfig `yaml:"credential"`
	Server     ServerConfig     `yaml:"server"`
}

// HelperConfig describes the executable launched for every proxied request.
type HelperConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// WaitDelay bounds how long pipes may stay open after the helper is
	// cancelled before they are forcibly closed.
	WaitDelay time.Duration `yaml:"wait_delay"`
}

// APIConfig is exported to the helper process environment on each launch.
type APIConfig struct {
	Name             string `yaml:"name"`
	BaseURL          string `yaml:"base_url"`
	SpecPath         string `yaml:"spec_path"`
	LogLevel         string `yaml:"log_level"`
	OperationPrompts bool   `yaml:"operation_prompts"`
}

// CredentialConfig names the variables consulted for the API credential.
// Value holds the credential resolved at load time.
type CredentialConfig struct {
	Primary   string          `yaml:"primary"`
	Secondary string          `yaml:"secondary"`
	Value     auth.Credential `yaml:"-"`
}

// ServerConfig carries the HTTP server timeouts.
type ServerConfig struct {
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ListenAddr joins the listen host and port into a dialable address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Port:           defaultPort,
		ServiceName:    defaultServiceName,
		ServiceVersion: defaultServiceVersion,
		LogLevel:       defaultLogLevel,
		Helper: HelperConfig{
			Command:   defaultHelperCommand,
			Args:      strings.Fields(defaultHelperArgs),
			WaitDelay: defaultHelperWaitDelay,
		},
		API: APIConfig{
			Name:             defaultAPIName,
			BaseURL:          defaultAPIBaseURL,
			SpecPath:         defaultAPISpecPath,
			LogLevel:         defaultAPILogLevel,
			OperationPrompts: true,
		},
		Credential: CredentialConfig{
			Primary:   defaultCredentialPrimary,
			Secondary: defaultCredentialSecond,
		},
		Server: ServerConfig{
			ReadTimeout:      defaultServerReadTimeout,
			IdleTimeout:      defaultServerIdleTimeout,
			GracefulShutdown: defaultGracefulShutdown,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence. When path is
// empty MCP_CONFIG_FILE is consulted.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigFile))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	cfg.Credential.Value = auth.Resolve(os.LookupEnv, cfg.Credential.Primary, cfg.Credential.Secondary)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values every component relies on.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if strings.TrimSpace(c.Helper.Command) == "" {
		return errors.New("helper command is required")
	}
	base, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if !base.IsAbs() {
		return errors.New("API_BASE_URL must be absolute (scheme://host)")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getInt(envPort, cfg.Port)
	cfg.ListenHost = getString(envListenHost, cfg.ListenHost)
	cfg.ServiceName = getString(envServiceName, cfg.ServiceName)
	cfg.ServiceVersion = getString(envServiceVersion, cfg.ServiceVersion)
	cfg.LogLevel = strings.ToLower(getString(envLogLevel, cfg.LogLevel))

	cfg.Helper.Command = getString(envHelperCommand, cfg.Helper.Command)
	if raw := strings.TrimSpace(os.Getenv(envHelperArgs)); raw != "" {
		cfg.Helper.Args = strings.Fields(raw)
	}
	cfg.Helper.WaitDelay = getDuration(envHelperWaitDelay, cfg.Helper.WaitDelay)

	cfg.API.Name = getString(envAPIName, cfg.API.Name)
	cfg.API.BaseURL = getString(envAPIBaseURL, cfg.API.BaseURL)
	cfg.API.SpecPath = getString(envAPISpecPath, cfg.API.SpecPath)
	cfg.API.LogLevel = getString(envAPILogLevel, cfg.API.LogLevel)
	cfg.API.OperationPrompts = getBool(envOperationPrompts, cfg.API.OperationPrompts)

	cfg.Credential.Primary = getString(envCredentialPrimary, cfg.Credential.Primary)
	cfg.Credential.Secondary = getString(envCredentialSecondary, cfg.Credential.Secondary)

	cfg.Server.ReadTimeout = getDuration(envServerReadTimeout, cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getDuration(envServerWriteTimeout, cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getDuration(envServerIdleTimeout, cfg.Server.IdleTimeout)
	cfg.Server.GracefulShutdown = getDuration(envGracefulShutdown, cfg.Server.GracefulShutdown)
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
