package config

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/opencode-nexus/nexus/internal/apperr"
)

// ServerConfig describes the supervised OpenCode server binary.
type ServerConfig struct {
	// BinaryPath is the path to the server executable.
	BinaryPath string `json:"binary_path"`
	// Host is the interface the server binds to.
	Host string `json:"host"`
	// Port is the TCP port the server binds to. Must be in [1024, 65535].
	Port int `json:"port"`
}

// Auth schemes for outbound server requests.
const (
	AuthNone             = ""
	AuthCloudflareAccess = "cloudflare_access"
	AuthAPIKey           = "api_key"
	AuthCustomHeader     = "custom_header"
)

// AuthConfig selects the authentication scheme for outbound requests.
// Exactly one scheme is active; empty Scheme means no auth.
type AuthConfig struct {
	// Scheme is one of the Auth* constants.
	Scheme string `json:"scheme,omitempty"`

	// Cloudflare Access service token credentials.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// Bearer API key.
	APIKey string `json:"api_key,omitempty"`

	// Arbitrary header name/value.
	HeaderName  string `json:"header_name,omitempty"`
	HeaderValue string `json:"header_value,omitempty"`
}

// BridgeConfig describes the local UI bridge listener.
type BridgeConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AllowedOrigins restricts CORS for browser-based UIs.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig `json:"server"`
	Auth     AuthConfig   `json:"auth"`
	Bridge   BridgeConfig `json:"bridge"`
	LogLevel string       `json:"log_level,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BinaryPath: "opencode",
			Host:       "127.0.0.1",
			Port:       4096,
		},
		Bridge: BridgeConfig{
			Host: "127.0.0.1",
			Port: 8390,
		},
		LogLevel: "INFO",
	}
}

// Load reads the config file at path (JSON or JSONC), applies {env:VAR}
// interpolation and environment overrides, and fills in defaults.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = jsonc.ToJSON(data)
		data = interpolate(data)
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, apperr.FromJSON(err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, apperr.FromFS(path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints on a configuration.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1024 || cfg.Server.Port > 65535 {
		return apperr.Validation("port", "must be between 1024 and 65535")
	}
	if cfg.Server.Host == "" {
		return apperr.Validation("host", "must not be empty")
	}
	if cfg.Bridge.Port < 1024 || cfg.Bridge.Port > 65535 {
		return apperr.Validation("bridge.port", "must be between 1024 and 65535")
	}
	switch cfg.Auth.Scheme {
	case AuthNone, AuthCloudflareAccess, AuthAPIKey, AuthCustomHeader:
	default:
		return apperr.Validation("auth.scheme", "unknown scheme "+cfg.Auth.Scheme)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})
}

// applyEnvOverrides applies NEXUS_* environment variables on top of file
// values. Environment wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEXUS_SERVER_BINARY"); v != "" {
		cfg.Server.BinaryPath = v
	}
	if v := os.Getenv("NEXUS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NEXUS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NEXUS_BRIDGE_HOST"); v != "" {
		cfg.Bridge.Host = v
	}
	if v := os.Getenv("NEXUS_BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = port
		}
	}
	if v := os.Getenv("NEXUS_API_KEY"); v != "" {
		cfg.Auth.Scheme = AuthAPIKey
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("NEXUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
