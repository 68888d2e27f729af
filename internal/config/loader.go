package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".deepthinks"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("DEEPTHINKS_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults. A missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	envconfig.Process("DEEPTHINKS_PATHS", &cfg.Paths)
	envconfig.Process("DEEPTHINKS_SERVER", &cfg.Server)
	envconfig.Process("DEEPTHINKS_TOGETHER", &cfg.Providers.Together)
	envconfig.Process("DEEPTHINKS_SEARCH", &cfg.Providers.Search)
	envconfig.Process("DEEPTHINKS_GOOGLE", &cfg.Providers.Google)
	envconfig.Process("DEEPTHINKS_MODELS", &cfg.Models)
	envconfig.Process("DEEPTHINKS_MEMORY", &cfg.Memory)
	envconfig.Process("DEEPTHINKS_TOOLS", &cfg.Tools)
	envconfig.Process("DEEPTHINKS_MAIL_AGENT", &cfg.MailAgent)
	envconfig.Process("DEEPTHINKS_NOTIFY_SLACK", &cfg.Notify.Slack)
	envconfig.Process("DEEPTHINKS_NOTIFY_KAFKA", &cfg.Notify.Kafka)

	// Fallback for the provider API key
	if cfg.Providers.Together.APIKey == "" {
		if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
			cfg.Providers.Together.APIKey = key
		}
	}
	if cfg.Providers.Search.APIKey == "" {
		if key := os.Getenv("TAVILY_API_KEY"); key != "" {
			cfg.Providers.Search.APIKey = key
		}
	}

	// Expand ~ in paths
	if strings.HasPrefix(cfg.Paths.DataDir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Paths.DataDir = filepath.Join(home, cfg.Paths.DataDir[1:])
		}
	}
	if cfg.Paths.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Paths.DataDir = filepath.Join(home, ConfigDir)
		} else {
			cfg.Paths.DataDir = "."
		}
	}

	clampDefaults(cfg)
	return cfg, nil
}

// clampDefaults restores sane values for knobs a config file zeroed out.
func clampDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Memory.MaxContextTokens <= 0 {
		cfg.Memory.MaxContextTokens = def.Memory.MaxContextTokens
	}
	if cfg.Memory.MinInteractionsBeforeSummary <= 0 {
		cfg.Memory.MinInteractionsBeforeSummary = def.Memory.MinInteractionsBeforeSummary
	}
	if cfg.Memory.MaxInteractionsLimit <= 0 {
		cfg.Memory.MaxInteractionsLimit = def.Memory.MaxInteractionsLimit
	}
	if cfg.Memory.SmoothingFactor <= 0 || cfg.Memory.SmoothingFactor > 1 {
		cfg.Memory.SmoothingFactor = def.Memory.SmoothingFactor
	}
	if cfg.Memory.SafetyMargin <= 0 || cfg.Memory.SafetyMargin > 1 {
		cfg.Memory.SafetyMargin = def.Memory.SafetyMargin
	}
	if cfg.Tools.MaxToolCallsPerInteraction <= 0 {
		cfg.Tools.MaxToolCallsPerInteraction = def.Tools.MaxToolCallsPerInteraction
	}
	if cfg.Tools.ResultTopN <= 0 {
		cfg.Tools.ResultTopN = def.Tools.ResultTopN
	}
	if cfg.Tools.ResultContentChars <= 0 {
		cfg.Tools.ResultContentChars = def.Tools.ResultContentChars
	}
	if cfg.MailAgent.MaxIterations <= 0 {
		cfg.MailAgent.MaxIterations = def.MailAgent.MaxIterations
	}
	if cfg.MailAgent.AuthWaitSeconds <= 0 {
		cfg.MailAgent.AuthWaitSeconds = def.MailAgent.AuthWaitSeconds
	}
	if cfg.MailAgent.ApprovalWaitSeconds <= 0 {
		cfg.MailAgent.ApprovalWaitSeconds = def.MailAgent.ApprovalWaitSeconds
	}
	if cfg.MailAgent.HistoryExchanges <= 0 {
		cfg.MailAgent.HistoryExchanges = def.MailAgent.HistoryExchanges
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads the file and substitutes ${ENV_VAR} references in
// string values before unmarshalling.
func loadResolvedConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	substituteEnvValues(raw)
	return json.Marshal(raw)
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
