package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tokenmeter configuration. Precedence: environment
// variables (TOKENMETER_*), then the config file, then defaults. The
// CLAUDE_CONFIG_DIR variable overrides the watch roots wholesale.
type Config struct {
	ProjectsDirs []string `mapstructure:"projects_dirs"`
	FilePattern  string   `mapstructure:"file_pattern"`

	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	BlockDuration        time.Duration `mapstructure:"block_duration"`
	Retention            time.Duration `mapstructure:"retention"`
	BurnRateWindow       time.Duration `mapstructure:"burn_rate_window"`
	MinProjectionElapsed time.Duration `mapstructure:"min_projection_elapsed"`

	QueueSize    int   `mapstructure:"queue_size"`
	MaxReadBytes int64 `mapstructure:"max_read_bytes"`

	// Timezone is passed through to the display layer; the engine itself
	// works strictly in UTC.
	Timezone   string `mapstructure:"timezone"`
	TokenLimit int64  `mapstructure:"token_limit"`

	ProjectNamePrefixes []string    `mapstructure:"project_name_prefixes"`
	Cache               CacheConfig `mapstructure:"cache"`
}

// CacheConfig controls the on-disk record journal.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "tokenmeter"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("file_pattern", "*.jsonl")
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("refresh_interval", "1s")
	v.SetDefault("block_duration", "5h")
	v.SetDefault("retention", "48h")
	v.SetDefault("burn_rate_window", "10m")
	v.SetDefault("min_projection_elapsed", "1m")
	v.SetDefault("queue_size", 256)
	v.SetDefault("max_read_bytes", 4*1024*1024)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("token_limit", 500_000)
	v.SetDefault("project_name_prefixes", []string{"-Users-", "-home-"})
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", filepath.Join(home, ".cache", "tokenmeter", "journal.db"))

	v.SetEnvPrefix("TOKENMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Roots resolves the directories to watch. CLAUDE_CONFIG_DIR (comma
// separated) wins; explicitly configured dirs come next; otherwise the
// well-known Claude project locations that exist on this machine.
func (c *Config) Roots() []string {
	if override := os.Getenv("CLAUDE_CONFIG_DIR"); override != "" {
		var roots []string
		for _, part := range strings.Split(override, ",") {
			if part = strings.TrimSpace(part); part != "" {
				roots = append(roots, filepath.Join(part, "projects"))
			}
		}
		return dedupePaths(roots)
	}

	if len(c.ProjectsDirs) > 0 {
		return dedupePaths(c.ProjectsDirs)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var roots []string
	for _, candidate := range []string{
		filepath.Join(home, ".config", "claude", "projects"),
		filepath.Join(home, ".claude", "projects"),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			roots = append(roots, candidate)
		}
	}
	return dedupePaths(roots)
}

func dedupePaths(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		resolved, err := filepath.Abs(p)
		if err != nil {
			resolved = p
		}
		if _, ok := seen[resolved]; ok {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, p)
	}
	return out
}
