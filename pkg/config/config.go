package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate when the configuration cannot be served.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables read by ApplyEnv
const (
	EnvPort = "PORT"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig `yaml:"server"`
	Admin   AdminConfig  `yaml:"admin"`
	Logging LogConfig    `yaml:"logging"`
}

// ServerConfig contains settings for the public listener and the asset root
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	StaticDir       string `yaml:"static_dir"`
	IndexFile       string `yaml:"index_file"`       // relative to StaticDir unless absolute
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // in seconds
	AccessLog       *bool  `yaml:"access_log"`
}

// AdminConfig contains settings for the metrics and health listener
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains settings for logging
type LogConfig struct {
	Format      string `yaml:"format"` // json or console
	LogToFile   bool   `yaml:"log_to_file"`
	LogFilePath string `yaml:"log_file_path"`
	MaxSize     int    `yaml:"max_size"`    // maximum size in megabytes
	MaxBackups  int    `yaml:"max_backups"` // maximum number of old log files to retain
	MaxAge      int    `yaml:"max_age"`     // maximum number of days to retain old log files
	Compress    *bool  `yaml:"compress"`
}

// LoadDefault returns a configuration with default values
func LoadDefault() *Config {
	accessLog, compress := true, true
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            3300,
			StaticDir:       "public",
			IndexFile:       "index.html",
			ShutdownTimeout: 5,
			AccessLog:       &accessLog,
		},
		Admin: AdminConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9330,
		},
		Logging: LogConfig{
			Format:      "json",
			LogToFile:   false,
			LogFilePath: "staticserve.log",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      28,
			Compress:    &compress,
		},
	}
}

// Load reads configuration from a file and merges it with default values.
// The PORT environment variable is not applied here, see ApplyEnv.
func Load(configPath string) (*Config, error) {
	cfg := LoadDefault()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Merge server configuration
	if fileCfg.Server.Host != "" {
		cfg.Server.Host = fileCfg.Server.Host
	}
	if fileCfg.Server.Port > 0 {
		cfg.Server.Port = fileCfg.Server.Port
	}
	if fileCfg.Server.StaticDir != "" {
		cfg.Server.StaticDir = fileCfg.Server.StaticDir
	}
	if fileCfg.Server.IndexFile != "" {
		cfg.Server.IndexFile = fileCfg.Server.IndexFile
	}
	if fileCfg.Server.ShutdownTimeout > 0 {
		cfg.Server.ShutdownTimeout = fileCfg.Server.ShutdownTimeout
	}
	if fileCfg.Server.AccessLog != nil {
		cfg.Server.AccessLog = fileCfg.Server.AccessLog
	}

	// Merge admin configuration
	if fileCfg.Admin.Enabled {
		cfg.Admin.Enabled = true
	}
	if fileCfg.Admin.Host != "" {
		cfg.Admin.Host = fileCfg.Admin.Host
	}
	if fileCfg.Admin.Port > 0 {
		cfg.Admin.Port = fileCfg.Admin.Port
	}

	// Merge logging configuration
	if fileCfg.Logging.Format != "" {
		cfg.Logging.Format = fileCfg.Logging.Format
	}
	if fileCfg.Logging.LogToFile {
		cfg.Logging.LogToFile = true
	}
	if fileCfg.Logging.LogFilePath != "" {
		cfg.Logging.LogFilePath = fileCfg.Logging.LogFilePath
	}
	if fileCfg.Logging.MaxSize > 0 {
		cfg.Logging.MaxSize = fileCfg.Logging.MaxSize
	}
	if fileCfg.Logging.MaxBackups > 0 {
		cfg.Logging.MaxBackups = fileCfg.Logging.MaxBackups
	}
	if fileCfg.Logging.MaxAge > 0 {
		cfg.Logging.MaxAge = fileCfg.Logging.MaxAge
	}
	if fileCfg.Logging.Compress != nil {
		cfg.Logging.Compress = fileCfg.Logging.Compress
	}

	return cfg, nil
}

// LoadOrDefault attempts to load configuration from a file.
// If the file doesn't exist or can't be parsed, it returns default configuration.
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config from %s: %v\n", configPath, err)
		fmt.Fprintf(os.Stderr, "Using default configuration\n")
		cfg = LoadDefault()
	}
	return cfg
}

// LoadEnvFile loads variables from a dotenv file into the process environment.
// Variables that are already set win over the file. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration values from the environment.
// getenv is usually os.Getenv; tests pass a map lookup.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port number", ErrInvalid, EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks that the configuration can be served
func (c *Config) Validate() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.StaticDir == "" {
		return fmt.Errorf("%w: server.static_dir must not be empty", ErrInvalid)
	}
	if c.Server.IndexFile == "" {
		return fmt.Errorf("%w: server.index_file must not be empty", ErrInvalid)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: server.shutdown_timeout must not be negative", ErrInvalid)
	}
	if c.Admin.Enabled {
		if err := validatePort("admin.port", c.Admin.Port); err != nil {
			return err
		}
		if c.Admin.Port != 0 && c.Admin.Port == c.Server.Port && c.Admin.Host == c.Server.Host {
			return fmt.Errorf("%w: admin.port must differ from server.port", ErrInvalid)
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be json or console, got %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// Port 0 is allowed and asks the kernel for a free port.
func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalid, name, port)
	}
	return nil
}

// Addr returns the listen address of the public server
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IndexPath returns the index document path, resolved against StaticDir when relative
func (s ServerConfig) IndexPath() string {
	if filepath.IsAbs(s.IndexFile) {
		return s.IndexFile
	}
	return filepath.Join(s.StaticDir, s.IndexFile)
}

// AccessLogEnabled reports whether every request is logged at info level
func (s ServerConfig) AccessLogEnabled() bool {
	return s.AccessLog == nil || *s.AccessLog
}

// CompressEnabled reports whether rotated log files are gzipped
func (l LogConfig) CompressEnabled() bool {
	return l.Compress == nil || *l.Compress
}

// Addr returns the listen address of the admin server
func (a AdminConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
