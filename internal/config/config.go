package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend types.
const (
	StorageFS     = "fs"
	StorageBolt   = "bolt"
	StorageMemory = "memory"
	StorageRemote = "remote"
)

// Queue types.
const (
	QueueMemory = "memory"
	QueueSQLite = "sqlite"
)

// Config represents the complete docsearch configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Queue    QueueConfig    `yaml:"queue" json:"queue"`
	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	Worker   WorkerConfig   `yaml:"worker" json:"worker"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// StorageConfig selects where index data and schema records live.
type StorageConfig struct {
	// Type is one of fs, bolt, memory, remote (default: fs).
	Type string `yaml:"type" json:"type"`
	// Path is the root directory for fs and bolt storage.
	// Defaults to ~/.docsearch/indices
	Path   string       `yaml:"path" json:"path"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`
}

// RemoteConfig configures the S3-compatible remote backend.
type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Region    string `yaml:"region" json:"region"`
	// Compression is the snapshot codec: zstd (default), lz4 or none.
	Compression string `yaml:"compression" json:"compression"`
	// CacheDir holds the local working copies of remote indexes.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// RegistryConfig configures the engine cache.
type RegistryConfig struct {
	// IdleTTL is how long an engine may sit unused before it is evicted.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
	// MaxIndices bounds the number of live engines (LRU beyond that).
	MaxIndices int `yaml:"max_indices" json:"max_indices"`
	// SweepInterval is how often idle engines are looked for.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// QueueConfig configures the mutation queue.
type QueueConfig struct {
	// Type is memory (default) or sqlite.
	Type           string        `yaml:"type" json:"type"`
	Capacity       int           `yaml:"capacity" json:"capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" json:"enqueue_timeout"`
	// Path is the sqlite database file. Defaults to ~/.docsearch/queue.db
	Path string `yaml:"path" json:"path"`
}

// EngineConfig configures per-index engines.
type EngineConfig struct {
	CommitInterval  time.Duration `yaml:"commit_interval" json:"commit_interval"`
	DeletePageSize  int           `yaml:"delete_page_size" json:"delete_page_size"`
	DefaultPageSize int           `yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size" json:"max_page_size"`
}

// WorkerConfig configures the drain worker.
type WorkerConfig struct {
	IdleSleep   time.Duration `yaml:"idle_sleep" json:"idle_sleep"`
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// ServerConfig configures the HTTP and RPC front ends.
type ServerConfig struct {
	// HTTPAddr is the HTTP listen address. Empty disables HTTP.
	HTTPAddr   string `yaml:"http_addr" json:"http_addr"`
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	// RateLimit is requests per second across all clients. 0 disables limiting.
	RateLimit     float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst" json:"rate_burst"`
	MaxBodyMB     int           `yaml:"max_body_mb" json:"max_body_mb"`
	LogLevel      string        `yaml:"log_level" json:"log_level"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	home := DataDir()
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Type: StorageFS,
			Path: filepath.Join(home, "indices"),
			Remote: RemoteConfig{
				Prefix:      "docsearch",
				UseSSL:      true,
				Compression: "zstd",
				CacheDir:    filepath.Join(home, "remote-cache"),
			},
		},
		Registry: RegistryConfig{
			IdleTTL:       24 * time.Hour,
			MaxIndices:    1000,
			SweepInterval: time.Minute,
		},
		Queue: QueueConfig{
			Type:           QueueMemory,
			Capacity:       1024,
			EnqueueTimeout: 5 * time.Second,
			Path:           filepath.Join(home, "queue.db"),
		},
		Engine: EngineConfig{
			CommitInterval:  time.Second,
			DeletePageSize:  1000,
			DefaultPageSize: 10,
			MaxPageSize:     1000,
		},
		Worker: WorkerConfig{
			IdleSleep:   time.Millisecond,
			StopTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:      "127.0.0.1:8421",
			SocketPath:    filepath.Join(home, "daemon.sock"),
			PIDPath:       filepath.Join(home, "daemon.pid"),
			RateBurst:     100,
			MaxBodyMB:     10,
			LogLevel:      "info",
			ShutdownGrace: 10 * time.Second,
		},
	}
}

// DataDir returns ~/.docsearch, falling back to the temp directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docsearch")
	}
	return filepath.Join(home, ".docsearch")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "docsearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/docsearch/config.yaml)
//  3. Project config (docsearch.yaml in dir)
//  4. Environment variables (DOCSEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := LoadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProjectConfigPath returns the project config file that Load would read
// from dir, or an empty string when there is none.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{"docsearch.yaml", "docsearch.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func (c *Config) loadFromFile(dir string) error {
	path := ProjectConfigPath(dir)
	if path == "" {
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Storage
	mergeString(&c.Storage.Type, other.Storage.Type)
	mergeString(&c.Storage.Path, other.Storage.Path)
	r, or := &c.Storage.Remote, other.Storage.Remote
	mergeString(&r.Endpoint, or.Endpoint)
	mergeString(&r.Bucket, or.Bucket)
	mergeString(&r.Prefix, or.Prefix)
	mergeString(&r.AccessKey, or.AccessKey)
	mergeString(&r.SecretKey, or.SecretKey)
	mergeString(&r.Region, or.Region)
	mergeString(&r.Compression, or.Compression)
	mergeString(&r.CacheDir, or.CacheDir)
	// use_ssl defaults to true, so only an explicit endpoint section can turn it off
	if or.Endpoint != "" {
		r.UseSSL = or.UseSSL
	}

	// Registry
	mergeDuration(&c.Registry.IdleTTL, other.Registry.IdleTTL)
	mergeInt(&c.Registry.MaxIndices, other.Registry.MaxIndices)
	mergeDuration(&c.Registry.SweepInterval, other.Registry.SweepInterval)

	// Queue
	mergeString(&c.Queue.Type, other.Queue.Type)
	mergeInt(&c.Queue.Capacity, other.Queue.Capacity)
	mergeDuration(&c.Queue.EnqueueTimeout, other.Queue.EnqueueTimeout)
	mergeString(&c.Queue.Path, other.Queue.Path)

	// Engine
	mergeDuration(&c.Engine.CommitInterval, other.Engine.CommitInterval)
	mergeInt(&c.Engine.DeletePageSize, other.Engine.DeletePageSize)
	mergeInt(&c.Engine.DefaultPageSize, other.Engine.DefaultPageSize)
	mergeInt(&c.Engine.MaxPageSize, other.Engine.MaxPageSize)

	// Worker
	mergeDuration(&c.Worker.IdleSleep, other.Worker.IdleSleep)
	mergeDuration(&c.Worker.StopTimeout, other.Worker.StopTimeout)

	// Server
	mergeString(&c.Server.HTTPAddr, other.Server.HTTPAddr)
	mergeString(&c.Server.SocketPath, other.Server.SocketPath)
	mergeString(&c.Server.PIDPath, other.Server.PIDPath)
	if other.Server.RateLimit != 0 {
		c.Server.RateLimit = other.Server.RateLimit
	}
	mergeInt(&c.Server.RateBurst, other.Server.RateBurst)
	mergeInt(&c.Server.MaxBodyMB, other.Server.MaxBodyMB)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	mergeDuration(&c.Server.ShutdownGrace, other.Server.ShutdownGrace)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies DOCSEARCH_* environment variable overrides.
// Malformed values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCSEARCH_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("DOCSEARCH_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DOCSEARCH_REMOTE_ENDPOINT"); v != "" {
		c.Storage.Remote.Endpoint = v
	}
	if v := os.Getenv("DOCSEARCH_REMOTE_BUCKET"); v != "" {
		c.Storage.Remote.Bucket = v
	}
	if v := os.Getenv("DOCSEARCH_REMOTE_ACCESS_KEY"); v != "" {
		c.Storage.Remote.AccessKey = v
	}
	if v := os.Getenv("DOCSEARCH_REMOTE_SECRET_KEY"); v != "" {
		c.Storage.Remote.SecretKey = v
	}
	if v := os.Getenv("DOCSEARCH_REMOTE_USE_SSL"); v != "" {
		c.Storage.Remote.UseSSL = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("DOCSEARCH_MAX_INDICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Registry.MaxIndices = n
		}
	}
	if v := os.Getenv("DOCSEARCH_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Registry.IdleTTL = d
		}
	}

	if v := os.Getenv("DOCSEARCH_QUEUE"); v != "" {
		c.Queue.Type = v
	}
	if v := os.Getenv("DOCSEARCH_QUEUE_PATH"); v != "" {
		c.Queue.Path = v
	}
	if v := os.Getenv("DOCSEARCH_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.Capacity = n
		}
	}

	if v := os.Getenv("DOCSEARCH_COMMIT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Engine.CommitInterval = d
		}
	}

	if v := os.Getenv("DOCSEARCH_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("DOCSEARCH_SOCKET"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("DOCSEARCH_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			c.Server.RateLimit = f
		}
	}
	if v := os.Getenv("DOCSEARCH_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Type) {
	case StorageFS, StorageBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for %s storage", c.Storage.Type)
		}
	case StorageMemory:
	case StorageRemote:
		if c.Storage.Remote.Endpoint == "" || c.Storage.Remote.Bucket == "" {
			return fmt.Errorf("storage.remote.endpoint and storage.remote.bucket are required for remote storage")
		}
		switch c.Storage.Remote.Compression {
		case "zstd", "lz4", "none":
		default:
			return fmt.Errorf("storage.remote.compression must be 'zstd', 'lz4', or 'none', got %s", c.Storage.Remote.Compression)
		}
	default:
		return fmt.Errorf("storage.type must be 'fs', 'bolt', 'memory', or 'remote', got %s", c.Storage.Type)
	}

	if c.Registry.MaxIndices <= 0 {
		return fmt.Errorf("registry.max_indices must be positive, got %d", c.Registry.MaxIndices)
	}
	if c.Registry.IdleTTL <= 0 {
		return fmt.Errorf("registry.idle_ttl must be positive, got %s", c.Registry.IdleTTL)
	}

	switch strings.ToLower(c.Queue.Type) {
	case QueueMemory:
	case QueueSQLite:
		if c.Queue.Path == "" {
			return fmt.Errorf("queue.path is required for sqlite queue")
		}
	default:
		return fmt.Errorf("queue.type must be 'memory' or 'sqlite', got %s", c.Queue.Type)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}

	if c.Engine.CommitInterval <= 0 {
		return fmt.Errorf("engine.commit_interval must be positive, got %s", c.Engine.CommitInterval)
	}
	if c.Engine.DeletePageSize <= 0 {
		return fmt.Errorf("engine.delete_page_size must be positive, got %d", c.Engine.DeletePageSize)
	}
	if c.Engine.DefaultPageSize <= 0 || c.Engine.MaxPageSize < c.Engine.DefaultPageSize {
		return fmt.Errorf("engine.default_page_size must be positive and not exceed max_page_size")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative, got %f", c.Server.RateLimit)
	}
	if c.Server.MaxBodyMB <= 0 {
		return fmt.Errorf("server.max_body_mb must be positive, got %d", c.Server.MaxBodyMB)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
