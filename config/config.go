// Package config loads camserver settings from yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Sensor  SensorConfig  `yaml:"sensor"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
	Catalog CatalogConfig `yaml:"catalog"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JPEGQuality     int           `yaml:"jpeg_quality"`
	SinkQueue       int           `yaml:"sink_queue"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type SensorConfig struct {
	// Mirrored is a pointer so an explicit false survives defaulting.
	Mirrored *bool `yaml:"mirrored"`
}

type HistoryConfig struct {
	Size int `yaml:"size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CatalogConfig struct {
	DSN string `yaml:"dsn"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// MirrorRows reports whether stored frames are flipped horizontally.
func (s SensorConfig) MirrorRows() bool {
	return s.Mirrored == nil || *s.Mirrored
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (if it exists), then .env and environment overrides,
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CAMSERVER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("CAMSERVER_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CAMSERVER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CAMSERVER_MIRRORED"); v != "" {
		mirrored, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CAMSERVER_MIRRORED: %w", err)
		}
		c.Sensor.Mirrored = &mirrored
	}
	if dsn := DSNFromEnv(); dsn != "" {
		c.Catalog.DSN = dsn
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	return nil
}

// DSNFromEnv builds a PostgreSQL connection string from DATABASE_URL or
// the POSTGRES_* variables. It returns "" when neither is set.
func DSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   name,
	}
	return dsn.String()
}

// Validate fills defaults and rejects values the server cannot run with.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.Server.MaxBodyBytes < 4 {
		return fmt.Errorf("server.max_body_bytes must be at least 4, got %d", c.Server.MaxBodyBytes)
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("server.jpeg_quality must be in 1..100, got %d", c.Server.JPEGQuality)
	}
	if c.History.Size < 1 {
		return fmt.Errorf("history.size must be positive, got %d", c.History.Size)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 8 << 20
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.JPEGQuality == 0 {
		c.Server.JPEGQuality = 80
	}
	if c.Server.SinkQueue == 0 {
		c.Server.SinkQueue = 64
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./images"
	}
	if c.History.Size == 0 {
		c.History.Size = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "camserver"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "camserver/frames"
	}
}
