package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"notegraph/internal/types"
)

// Config holds all notegraph configuration.
type Config struct {
	// Vault location and database
	Vault VaultConfig `yaml:"vault"`

	// External analyzer
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Task queue draining and throttle
	Processing ProcessingConfig `yaml:"processing"`

	// Automatic link insertion policy
	AutoApply AutoApplyConfig `yaml:"auto_apply"`

	// Vault scanning
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Pairwise connection discovery
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Document modification safety
	Safety SafetyConfig `yaml:"safety"`

	// Control API
	Control ControlConfig `yaml:"control"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// VaultConfig locates the documents and the result store.
type VaultConfig struct {
	Path         string `yaml:"path"`
	DatabasePath string `yaml:"database_path"` // default: <vault parent>/vault_analysis.db
	Extension    string `yaml:"extension"`
}

// AnalyzerConfig configures the external inference backend.
type AnalyzerConfig struct {
	Provider         string  `yaml:"provider"` // ollama-cli, ollama, gemini
	Model            string  `yaml:"model"`
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	Command          string  `yaml:"command"` // binary for ollama-cli
	Timeout          string  `yaml:"timeout"`
	MaxContentChars  int     `yaml:"max_content_chars"`
	MinInterestScore float64 `yaml:"min_interest_score"`
}

// ProcessingConfig configures the drain workers.
type ProcessingConfig struct {
	Workers            int    `yaml:"workers"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	PollInterval       string `yaml:"poll_interval"`
	ErrorBackoff       string `yaml:"error_backoff"`
}

// AutoApplyConfig configures when discovered links are written.
type AutoApplyConfig struct {
	Enabled             bool     `yaml:"enabled"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	StrengthThreshold   float64  `yaml:"strength_threshold"`
	MaxPerHour          int      `yaml:"max_per_hour"`
	SafeTypes           []string `yaml:"safe_types"`
}

// MonitoringConfig configures the scanner and change watcher.
type MonitoringConfig struct {
	ScanInterval       string   `yaml:"scan_interval"`
	MaxFileSizeMB      float64  `yaml:"max_file_size_mb"`
	SkipPatterns       []string `yaml:"skip_patterns"`
	FingerprintWorkers int      `yaml:"fingerprint_workers"`
	WatchEvents        bool     `yaml:"watch_events"`
	WatchDebounce      string   `yaml:"watch_debounce"`
}

// DiscoveryConfig configures the connection discoverer.
type DiscoveryConfig struct {
	Interval     string `yaml:"interval"`
	IdleInterval string `yaml:"idle_interval"`
	PairDelay    string `yaml:"pair_delay"`
	Window       int    `yaml:"window"`
	MaxPerCycle  int    `yaml:"max_per_cycle"`
}

// SafetyConfig configures document backups.
type SafetyConfig struct {
	BackupBeforeModify bool   `yaml:"backup_before_modify"`
	BackupDir          string `yaml:"backup_dir"` // default: <vault parent>/.notegraph_backups
}

// ControlConfig configures the HTTP control surface.
type ControlConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ListenAddr  string `yaml:"listen_addr"`
	StopTimeout string `yaml:"stop_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			Extension: ".md",
		},

		Analyzer: AnalyzerConfig{
			Provider:         "ollama-cli",
			Model:            "llama3.2",
			BaseURL:          "http://localhost:11434",
			Command:          "ollama",
			Timeout:          "90s",
			MaxContentChars:  2000,
			MinInterestScore: 2,
		},

		Processing: ProcessingConfig{
			Workers:            1,
			RateLimitPerMinute: 10,
			PollInterval:       "10s",
			ErrorBackoff:       "30s",
		},

		AutoApply: AutoApplyConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.75,
			StrengthThreshold:   7.0,
			MaxPerHour:          15,
			SafeTypes:           []string{"temporal", "project", "thematic"},
		},

		Monitoring: MonitoringConfig{
			ScanInterval:       "45s",
			MaxFileSizeMB:      5,
			SkipPatterns:       []string{".git", ".obsidian", "temp", ".temp", "__pycache__"},
			FingerprintWorkers: 4,
			WatchEvents:        true,
			WatchDebounce:      "500ms",
		},

		Discovery: DiscoveryConfig{
			Interval:     "5m",
			IdleInterval: "60s",
			PairDelay:    "2s",
			Window:       50,
			MaxPerCycle:  20,
		},

		Safety: SafetyConfig{
			BackupBeforeModify: true,
		},

		Control: ControlConfig{
			Enabled:     true,
			ListenAddr:  "127.0.0.1:7787",
			StopTimeout: "10s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NOTEGRAPH_VAULT"); v != "" {
		c.Vault.Path = v
	}
	if v := os.Getenv("NOTEGRAPH_DB"); v != "" {
		c.Vault.DatabasePath = v
	}
	if v := os.Getenv("NOTEGRAPH_PROVIDER"); v != "" {
		c.Analyzer.Provider = v
	}
	if v := os.Getenv("NOTEGRAPH_MODEL"); v != "" {
		c.Analyzer.Model = v
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Analyzer.APIKey = key
		if c.Analyzer.Provider == "" {
			c.Analyzer.Provider = "gemini"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		c.Analyzer.BaseURL = host
	}
	if addr := os.Getenv("NOTEGRAPH_LISTEN"); addr != "" {
		c.Control.ListenAddr = addr
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetAnalyzerTimeout returns the per-call analyzer timeout.
func (c *Config) GetAnalyzerTimeout() time.Duration {
	return parseDuration(c.Analyzer.Timeout, 90*time.Second)
}

// GetPollInterval returns how long idle workers wait before re-checking the queue.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Processing.PollInterval, 10*time.Second)
}

// GetErrorBackoff returns the pause after a loop-level failure.
func (c *Config) GetErrorBackoff() time.Duration {
	return parseDuration(c.Processing.ErrorBackoff, 30*time.Second)
}

// GetThrottleDelay returns the spacing between analysis starts: 60s / rate_limit_per_minute.
func (c *Config) GetThrottleDelay() time.Duration {
	rate := c.Processing.RateLimitPerMinute
	if rate <= 0 {
		rate = 10
	}
	return time.Minute / time.Duration(rate)
}

// GetScanInterval returns the vault scan interval.
func (c *Config) GetScanInterval() time.Duration {
	return parseDuration(c.Monitoring.ScanInterval, 45*time.Second)
}

// GetWatchDebounce returns the fsnotify debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Monitoring.WatchDebounce, 500*time.Millisecond)
}

// MaxFileSizeBytes returns the inclusion size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	mb := c.Monitoring.MaxFileSizeMB
	if mb <= 0 {
		mb = 5
	}
	return int64(mb * 1024 * 1024)
}

// GetDiscoveryInterval returns the sleep after a full discovery cycle.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return parseDuration(c.Discovery.Interval, 5*time.Minute)
}

// GetDiscoveryIdleInterval returns the sleep when fewer than two documents
// have been classified.
func (c *Config) GetDiscoveryIdleInterval() time.Duration {
	return parseDuration(c.Discovery.IdleInterval, 60*time.Second)
}

// GetPairDelay returns the spacing between pairwise comparisons.
func (c *Config) GetPairDelay() time.Duration {
	return parseDuration(c.Discovery.PairDelay, 2*time.Second)
}

// GetStopTimeout returns how long Stop waits for each loop.
func (c *Config) GetStopTimeout() time.Duration {
	return parseDuration(c.Control.StopTimeout, 10*time.Second)
}

// DatabasePath returns the result store location, defaulting to
// vault_analysis.db next to the vault directory.
func (c *Config) DatabasePath() string {
	if c.Vault.DatabasePath != "" {
		return c.Vault.DatabasePath
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Vault.Path)), "vault_analysis.db")
}

// BackupDir returns where pre-modification copies are written.
func (c *Config) BackupDir() string {
	if c.Safety.BackupDir != "" {
		return c.Safety.BackupDir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Vault.Path)), ".notegraph_backups")
}

// SafeConnectionTypes returns the auto-apply allow-list as typed values.
func (c *Config) SafeConnectionTypes() []types.ConnectionType {
	out := make([]types.ConnectionType, 0, len(c.AutoApply.SafeTypes))
	for _, s := range c.AutoApply.SafeTypes {
		out = append(out, types.ConnectionType(strings.ToLower(strings.TrimSpace(s))))
	}
	return out
}

// ValidProviders lists all supported analyzer backends.
var ValidProviders = []string{"ollama-cli", "ollama", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("vault path not configured (set vault.path or NOTEGRAPH_VAULT)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Analyzer.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid analyzer provider: %s (valid: %v)", c.Analyzer.Provider, ValidProviders)
	}
	if c.Analyzer.Provider == "gemini" && c.Analyzer.APIKey == "" {
		return fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
	}
	if c.Analyzer.Model == "" {
		return fmt.Errorf("analyzer model not configured")
	}

	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.RateLimitPerMinute < 1 {
		return fmt.Errorf("processing.rate_limit_per_minute must be at least 1, got %d", c.Processing.RateLimitPerMinute)
	}

	if c.AutoApply.ConfidenceThreshold < 0 || c.AutoApply.ConfidenceThreshold > 1 {
		return fmt.Errorf("auto_apply.confidence_threshold must be within [0,1], got %v", c.AutoApply.ConfidenceThreshold)
	}
	if c.AutoApply.StrengthThreshold < 0 || c.AutoApply.StrengthThreshold > 10 {
		return fmt.Errorf("auto_apply.strength_threshold must be within [0,10], got %v", c.AutoApply.StrengthThreshold)
	}
	if c.AutoApply.MaxPerHour < 0 {
		return fmt.Errorf("auto_apply.max_per_hour must not be negative")
	}
	for _, t := range c.SafeConnectionTypes() {
		if t == types.ConnectionNone || types.ParseConnectionType(string(t)) != t {
			return fmt.Errorf("invalid auto_apply.safe_types entry: %q", t)
		}
	}

	if c.Discovery.Window < 2 {
		return fmt.Errorf("discovery.window must be at least 2, got %d", c.Discovery.Window)
	}
	if c.Discovery.MaxPerCycle < 1 {
		return fmt.Errorf("discovery.max_per_cycle must be at least 1, got %d", c.Discovery.MaxPerCycle)
	}

	return nil
}
