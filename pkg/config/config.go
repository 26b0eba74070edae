// Package config provides configuration management for the mem-analysis
// tools.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mem-analysis/pkg/pprof"
)

// Config holds all configuration for the application.
type Config struct {
	Target     TargetConfig     `mapstructure:"target"`
	Map        MapConfig        `mapstructure:"map"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Search     SearchConfig     `mapstructure:"search"`
	Session    SessionConfig    `mapstructure:"session"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Profiling  ProfilingConfig  `mapstructure:"profiling"`
	Log        LogConfig        `mapstructure:"log"`
}

// TargetConfig selects the target the tools attach to.
type TargetConfig struct {
	// Snapshot is a local snapshot file path.
	Snapshot string `mapstructure:"snapshot"`
	// StorageKey names a snapshot in the configured object storage; used
	// when Snapshot is empty.
	StorageKey string `mapstructure:"storage_key"`
}

// MapConfig configures address-map builds.
type MapConfig struct {
	Providers        []string `mapstructure:"providers"`
	StopAt32BitLimit bool     `mapstructure:"stop_at_32bit_limit"`
	StrictProviders  bool     `mapstructure:"strict_providers"`
	Timing           bool     `mapstructure:"timing"`
}

// ClassifierConfig configures the allocation-block classifier.
type ClassifierConfig struct {
	ModuleCacheSize int `mapstructure:"module_cache_size"`
}

// SearchConfig holds memory search defaults.
type SearchConfig struct {
	PageSize        int      `mapstructure:"page_size"`
	MemTypes        []string `mapstructure:"mem_types"`
	IncludeReadOnly bool     `mapstructure:"include_read_only"`
}

// SessionConfig configures the debug session worker.
type SessionConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type        string `mapstructure:"type"` // cos or local
	Bucket      string `mapstructure:"bucket"`
	Region      string `mapstructure:"region"`
	SecretID    string `mapstructure:"secret_id"`
	SecretKey   string `mapstructure:"secret_key"`
	Domain      string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme      string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath   string `mapstructure:"local_path"` // for local storage
	Compression string `mapstructure:"compression"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Pprof mounts the Go profiling endpoints under /debug/pprof/.
	Pprof bool `mapstructure:"pprof"`
}

// ProfilingConfig configures profiles recorded around CLI commands.
type ProfilingConfig struct {
	OutputDir string   `mapstructure:"output_dir"`
	Profiles  []string `mapstructure:"profiles"`
	MaxFiles  int      `mapstructure:"max_files"`
}

// TelemetryConfig overrides the OTEL_* environment settings.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
	Insecure bool   `mapstructure:"insecure"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

var (
	knownProviders = map[string]bool{"modules": true, "native-heaps": true, "managed-heaps": true}
	knownDatabases = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	knownStorages  = map[string]bool{"local": true, "cos": true}
	knownCodecs    = map[string]bool{"": true, "none": true, "gzip": true, "zstd": true}
)

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mem-analysis")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file; defaults apply.
		} else if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// MEMANALYSIS_MAP_TIMING=true overrides map.timing.
	v.SetEnvPrefix("memanalysis")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from a byte slice (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Map defaults
	v.SetDefault("map.providers", []string{"modules", "native-heaps", "managed-heaps"})
	v.SetDefault("map.stop_at_32bit_limit", true)

	// Classifier defaults
	v.SetDefault("classifier.module_cache_size", 256)

	// Search defaults
	v.SetDefault("search.page_size", 4096)
	v.SetDefault("search.mem_types", []string{"all"})

	// Session defaults
	v.SetDefault("session.queue_size", 16)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/snapshots.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.compression", "zstd")

	// Server defaults
	v.SetDefault("server.port", 8080)

	// Telemetry defaults
	v.SetDefault("telemetry.protocol", "grpc")

	// Profiling defaults
	v.SetDefault("profiling.profiles", []string{"cpu", "heap"})
	v.SetDefault("profiling.max_files", 10)

	// Log defaults
	v.SetDefault("log.level", "info")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Map.Providers) == 0 {
		return fmt.Errorf("at least one region provider is required")
	}
	for _, p := range c.Map.Providers {
		if !knownProviders[p] {
			return fmt.Errorf("unknown region provider: %s", p)
		}
	}

	if c.Classifier.ModuleCacheSize < 1 {
		return fmt.Errorf("classifier module cache size must be at least 1")
	}
	if c.Search.PageSize < 1 || c.Search.PageSize&(c.Search.PageSize-1) != 0 {
		return fmt.Errorf("search page size must be a positive power of two")
	}
	if c.Session.QueueSize < 1 {
		return fmt.Errorf("session queue size must be at least 1")
	}

	if !knownDatabases[c.Database.Type] {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Enabled && c.Database.Type != "sqlite" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if !knownStorages[c.Storage.Type] {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if !knownCodecs[c.Storage.Compression] {
		return fmt.Errorf("unsupported compression: %s", c.Storage.Compression)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := pprof.ParseProfileTypes(c.Profiling.Profiles); err != nil {
		return err
	}
	if c.Profiling.MaxFiles < 0 {
		return fmt.Errorf("profiling max files must not be negative")
	}

	return nil
}
