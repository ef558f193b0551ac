package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yourusername/debridget/internal/domain"
)

// envBindings maps config keys to the extra, unprefixed variables users
// commonly export for vendor credentials
var envBindings = map[string][]string{
	"providers.torbox.api_token":     {"TORBOX_API_TOKEN"},
	"providers.realdebrid.api_token": {"REALDEBRID_API_TOKEN"},
	"providers.proxy_url":            {"DEBRID_PROXY_URL"},
	"database.dsn":                   {"DATABASE_URL"},
}

// LoadConfig loads configuration from defaults, a YAML file, a .env file and
// the environment, in increasing order of precedence
func LoadConfig(configPath string) (*domain.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.debridget")
		v.AddConfigPath("/etc/debridget")
	}

	// Defaults must be registered so that AutomaticEnv can see every key
	for key, value := range flattenSettings("", configSettings(config)) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("DEBRIDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key, "DEBRIDGET_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv loads a .env file into the process environment when one exists.
// Variables already set take precedence.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Database.Path = expandPath(config.Database.Path)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("database path not configured")
		}
	case "postgres":
		if config.Database.DSN == "" {
			return fmt.Errorf("database dsn not configured")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", config.Database.Driver)
	}

	if err := validateVendor("torbox", config.Providers.TorBox); err != nil {
		return err
	}
	if err := validateVendor("realdebrid", config.Providers.RealDebrid.VendorConfig); err != nil {
		return err
	}

	if config.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if config.Poller.Enabled && config.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}
	if config.Poller.Concurrency < 1 {
		config.Poller.Concurrency = 1
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

func validateVendor(name string, cfg domain.VendorConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIToken == "" {
		return fmt.Errorf("%s is enabled but has no api token", name)
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("%s base url not configured", name)
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range configSettings(config) {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// configSettings renders the config as nested maps keyed by the same names
// LoadConfig reads. Durations are written in their string form.
func configSettings(c *domain.Config) map[string]interface{} {
	vendor := func(vc domain.VendorConfig) map[string]interface{} {
		return map[string]interface{}{
			"enabled":             vc.Enabled,
			"api_token":           vc.APIToken,
			"base_url":            vc.BaseURL,
			"timeout":             vc.Timeout.String(),
			"requests_per_second": vc.RequestsPerSecond,
			"burst_size":          vc.BurstSize,
		}
	}

	realDebrid := vendor(c.Providers.RealDebrid.VendorConfig)
	realDebrid["auto_select_files"] = c.Providers.RealDebrid.AutoSelectFiles

	return map[string]interface{}{
		"server": map[string]interface{}{
			"host": c.Server.Host,
			"port": c.Server.Port,
		},
		"database": map[string]interface{}{
			"driver": c.Database.Driver,
			"path":   c.Database.Path,
			"dsn":    c.Database.DSN,
		},
		"providers": map[string]interface{}{
			"proxy_url": c.Providers.ProxyURL,
			"mock": map[string]interface{}{
				"enabled":        c.Providers.Mock.Enabled,
				"stage_delay":    c.Providers.Mock.StageDelay.String(),
				"download_steps": c.Providers.Mock.DownloadSteps,
			},
			"torbox":     vendor(c.Providers.TorBox),
			"realdebrid": realDebrid,
		},
		"retry": map[string]interface{}{
			"max_retries":        c.Retry.MaxRetries,
			"initial_delay":      c.Retry.InitialDelay.String(),
			"max_delay":          c.Retry.MaxDelay.String(),
			"backoff_multiplier": c.Retry.BackoffMultiplier,
		},
		"poller": map[string]interface{}{
			"enabled":     c.Poller.Enabled,
			"interval":    c.Poller.Interval.String(),
			"concurrency": c.Poller.Concurrency,
		},
		"notification": map[string]interface{}{
			"enabled": c.Notification.Enabled,
			"sound":   c.Notification.Sound,
			"method":  c.Notification.Method,
		},
		"logging": map[string]interface{}{
			"level":       c.Logging.Level,
			"format":      c.Logging.Format,
			"output_path": c.Logging.OutputPath,
			"logs_dir":    c.Logging.LogsDir,
		},
	}
}

// flattenSettings turns nested maps into dotted viper keys
func flattenSettings(prefix string, m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flattenSettings(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
