package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 8421
	DefaultProvider     = "openrouter"
	DefaultContextLimit = 200
	DefaultTimezone     = "Europe/London"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[string]string{
	"openrouter": "google/gemini-3-flash-preview",
	"openai":     "gpt-4o-mini",
	"anthropic":  "claude-sonnet-4-5",
	"ollama":     "llama3.2",
}

var apnsEnvNames = [...]string{"APNS_KEY_PATH", "APNS_KEY_ID", "APNS_TEAM_ID", "APNS_BUNDLE_ID"}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Overlay merges the YAML at path over c. Keys absent from the file keep
// their current values.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyDefaults()
	return nil
}

type Config struct {
	Server struct {
		Host      string  `yaml:"host"`
		Port      int     `yaml:"port"`
		AuthToken string  `yaml:"authToken"`
		SendRate  float64 `yaml:"sendRate"`
		SendBurst int     `yaml:"sendBurst"`
	} `yaml:"server"`
	Storage struct {
		DataDir string `yaml:"dataDir"`
		DBPath  string `yaml:"dbPath"`
	} `yaml:"storage"`
	Model struct {
		Provider     string            `yaml:"provider"`
		Name         string            `yaml:"name"`
		BaseURL      string            `yaml:"baseURL"`
		Keys         map[string]string `yaml:"keys"`
		ContextLimit int               `yaml:"contextLimit"`
		MaxTokens    int               `yaml:"maxTokens"`
		Timezone     string            `yaml:"timezone"`
		SystemPrompt string            `yaml:"systemPrompt"`
	} `yaml:"model"`
	Wake struct {
		QuietPeriod time.Duration `yaml:"quietPeriod"`
		MinDelay    time.Duration `yaml:"minDelay"`
		MaxDelay    time.Duration `yaml:"maxDelay"`
	} `yaml:"wake"`
	Push struct {
		// Backend is auto, apns, desktop or none. auto uses APNs when fully
		// configured and nothing otherwise.
		Backend string `yaml:"backend"`
		APNs    struct {
			KeyPath  string `yaml:"keyPath"`
			KeyID    string `yaml:"keyId"`
			TeamID   string `yaml:"teamId"`
			BundleID string `yaml:"bundleId"`
			Sandbox  string `yaml:"sandbox"`
		} `yaml:"apns"`
	} `yaml:"push"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.SendRate <= 0 {
		c.Server.SendRate = 1
	}
	if c.Server.SendBurst <= 0 {
		c.Server.SendBurst = 5
	}
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	c.Model.Provider = strings.ToLower(c.Model.Provider)
	if c.Model.Name == "" {
		c.Model.Name = DefaultModels[c.Model.Provider]
	}
	if c.Model.ContextLimit <= 0 {
		c.Model.ContextLimit = DefaultContextLimit
	}
	if c.Model.Timezone == "" {
		c.Model.Timezone = DefaultTimezone
	}
	if c.Push.Backend == "" {
		c.Push.Backend = "auto"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DBPath returns the configured database path, or messages.db in dataDir.
func (c Config) DBPath(dataDir string) string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(dataDir, "messages.db")
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	return c.Model.Keys[c.Model.Provider]
}

// APNsSandbox is true unless explicitly set to false.
func (c Config) APNsSandbox() bool {
	return strings.TrimSpace(strings.ToLower(c.Push.APNs.Sandbox)) != "false"
}

// APNsMissing lists the unset APNs settings by their environment names.
func (c Config) APNsMissing() []string {
	values := [...]string{c.Push.APNs.KeyPath, c.Push.APNs.KeyID, c.Push.APNs.TeamID, c.Push.APNs.BundleID}
	var missing []string
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, apnsEnvNames[i])
		}
	}
	return missing
}

// APNsConfigured reports whether every APNs setting is present.
func (c Config) APNsConfigured() bool {
	return len(c.APNsMissing()) == 0
}

// PushWarning describes why APNs is disabled, or "" when it is usable.
func (c Config) PushWarning() string {
	missing := c.APNsMissing()
	switch {
	case len(missing) == 0:
		return ""
	case len(missing) == len(apnsEnvNames):
		return "No APNs env vars set, push notifications disabled."
	default:
		return fmt.Sprintf("APNs partially configured, missing: %s. Push notifications disabled.", strings.Join(missing, ", "))
	}
}

var (
	ErrMissingAuthToken = errors.New("missing required setting WS_AUTH_TOKEN")
	ErrMissingAPIKey    = errors.New("missing API key for model provider")
)

// Validate fails on settings the daemon cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.AuthToken) == "" {
		return ErrMissingAuthToken
	}
	switch c.Model.Provider {
	case "openrouter", "openai", "anthropic":
		if c.APIKey() == "" {
			return fmt.Errorf("%w %s", ErrMissingAPIKey, c.Model.Provider)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	switch c.Push.Backend {
	case "auto", "apns", "desktop", "none":
	default:
		return fmt.Errorf("unknown push backend %q", c.Push.Backend)
	}
	if c.Push.Backend == "apns" && !c.APNsConfigured() {
		return fmt.Errorf("push backend apns needs %s", strings.Join(c.APNsMissing(), ", "))
	}
	if c.Wake.MinDelay > 0 && c.Wake.MaxDelay > 0 && c.Wake.MinDelay > c.Wake.MaxDelay {
		return fmt.Errorf("wake minDelay %s exceeds maxDelay %s", c.Wake.MinDelay, c.Wake.MaxDelay)
	}
	return nil
}
