package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreBackendFile   = "file"
	StoreBackendBadger = "badger"

	FileStoreName = "calendar.json"
	BadgerDirName = "calendar_db"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "file" or "badger"
}

type SessionsConfig struct {
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
	SendBufferSize           int `yaml:"sendBufferSize"`
}

type HeartbeatConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ReapInterval time.Duration `yaml:"reapInterval"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Calendar RateLimiterConfig `yaml:"calendar"`
	Events   RateLimiterConfig `yaml:"events"`
	System   RateLimiterConfig `yaml:"system"`
	Default  RateLimiterConfig `yaml:"default"`
}

type Config struct {
	HttpBinding  string          `yaml:"httpBinding"`
	DataDir      string          `yaml:"dataDir"`
	TLS          TLS             `yaml:"tls"`
	Store        StoreConfig     `yaml:"store"`
	Sessions     SessionsConfig  `yaml:"sessions"`
	Heartbeat    HeartbeatConfig `yaml:"heartbeat"`
	RateLimiters RateLimiters    `yaml:"rateLimiters"`
}

var (
	ErrConfigFileMissing        = errors.New("config file is missing")
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing       = errors.New("httpBinding is missing in config")
	ErrDataDirMissing           = errors.New("dataDir is missing in config")
	ErrTLSMissing               = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrStoreBackendUnknown      = errors.New("store.backend must be either 'file' or 'badger'")
)

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, ErrConfigFileMissing
	}
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults for optional ones.
func (c *Config) Validate() error {
	if c.HttpBinding == "" {
		return ErrHttpBindingMissing
	}
	if c.DataDir == "" {
		return ErrDataDirMissing
	}

	if c.TLS.Cert != "" && c.TLS.Key == "" ||
		c.TLS.Cert == "" && c.TLS.Key != "" {
		return ErrTLSMissing
	}

	switch c.Store.Backend {
	case "":
		c.Store.Backend = StoreBackendFile
	case StoreBackendFile, StoreBackendBadger:
	default:
		return ErrStoreBackendUnknown
	}

	if c.Sessions.WebSocketReadBufferSize <= 0 {
		c.Sessions.WebSocketReadBufferSize = 4096
	}
	if c.Sessions.WebSocketWriteBufferSize <= 0 {
		c.Sessions.WebSocketWriteBufferSize = 4096
	}
	if c.Sessions.MaxConnections <= 0 {
		c.Sessions.MaxConnections = 100
	}
	if c.Sessions.SendBufferSize <= 0 {
		c.Sessions.SendBufferSize = 256
	}

	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 30 * time.Second
	}
	if c.Heartbeat.ReapInterval <= 0 {
		c.Heartbeat.ReapInterval = 60 * time.Second
	}

	if c.RateLimiters.Calendar.Limit <= 0 {
		c.RateLimiters.Calendar = RateLimiterConfig{Limit: 100.0, Burst: 200}
	}
	if c.RateLimiters.Events.Limit <= 0 {
		c.RateLimiters.Events = RateLimiterConfig{Limit: 200.0, Burst: 400}
	}
	if c.RateLimiters.System.Limit <= 0 {
		c.RateLimiters.System = RateLimiterConfig{Limit: 50.0, Burst: 100}
	}
	if c.RateLimiters.Default.Limit <= 0 {
		c.RateLimiters.Default = RateLimiterConfig{Limit: 100.0, Burst: 200}
	}

	return nil
}

// GenerateConfig returns a config populated with sane local defaults,
// suitable for writing out as a starter file.
func GenerateConfig() *Config {
	cfg := &Config{
		HttpBinding: "127.0.0.1:8080",
		DataDir:     "data/calsync",
		Store: StoreConfig{
			Backend: StoreBackendFile,
		},
	}
	// Validate fills the remaining defaults.
	_ = cfg.Validate()
	return cfg
}
