package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects and locates the job store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path"`   // sqlite file
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// ProvidersConfig contains per-vendor configuration
type ProvidersConfig struct {
	ProxyURL   string           `mapstructure:"proxy_url"` // http, https or socks5
	Mock       MockConfig       `mapstructure:"mock"`
	TorBox     VendorConfig     `mapstructure:"torbox"`
	RealDebrid RealDebridConfig `mapstructure:"realdebrid"`
}

// MockConfig configures the simulated provider
type MockConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	StageDelay    time.Duration `mapstructure:"stage_delay"`
	DownloadSteps int           `mapstructure:"download_steps"`
}

// VendorConfig contains settings shared by every HTTP-backed provider
type VendorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIToken          string        `mapstructure:"api_token"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
}

// RealDebridConfig adds RealDebrid-only switches
type RealDebridConfig struct {
	VendorConfig    `mapstructure:",squash"`
	AutoSelectFiles bool `mapstructure:"auto_select_files"`
}

// RetryConfig configures the retry policy of vendor clients
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// PollerConfig configures background status synchronization
type PollerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`    // category logs
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "$HOME/.debridget/jobs.db",
		},
		Providers: ProvidersConfig{
			Mock: MockConfig{
				Enabled:       true,
				StageDelay:    2 * time.Second,
				DownloadSteps: 5,
			},
			TorBox: VendorConfig{
				BaseURL:           "https://api.torbox.app/v1/api",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 5,
				BurstSize:         10,
			},
			RealDebrid: RealDebridConfig{
				VendorConfig: VendorConfig{
					BaseURL:           "https://api.real-debrid.com/rest/1.0",
					Timeout:           30 * time.Second,
					RequestsPerSecond: 4,
					BurstSize:         8,
				},
				AutoSelectFiles: true,
			},
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2,
		},
		Poller: PollerConfig{
			Enabled:     true,
			Interval:    5 * time.Second,
			Concurrency: 4,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   true,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.debridget/logs",
		},
	}
}
