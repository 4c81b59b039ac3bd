// Package config provides XML-based configuration management for on-site deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/site-tracker/backend/internal/crm"
	"github.com/site-tracker/backend/internal/fanout"
	"github.com/site-tracker/backend/internal/feed"
	"github.com/site-tracker/backend/internal/tracker"
)

// DefaultConfigFile is the config file name looked up next to the executable.
const DefaultConfigFile = "SiteTracker.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"SiteTracker"`

	Server   ServerConfig   `xml:"Server"`
	Storage  StorageConfig  `xml:"Storage"`
	Feed     FeedConfig     `xml:"Feed"`
	Tracking TrackingConfig `xml:"Tracking"`
	CRM      CRMConfig      `xml:"CRM"`
	Redis    RedisConfig    `xml:"Redis"`
	Render   RenderConfig   `xml:"Render"`
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	DatabaseFile     string `xml:"DatabaseFile"`
	SiteProfile      string `xml:"SiteProfile"`
}

// FeedConfig selects and configures the position feed
type FeedConfig struct {
	Mode             string `xml:"Mode"` // simulated, live or mqtt
	URL              string `xml:"URL"`
	Username         string `xml:"Username"`
	Password         string `xml:"Password"`
	IntervalMs       int    `xml:"SimulatedIntervalMs"`
	HandshakeDelayMs int    `xml:"SimulatedHandshakeDelayMs"`
	TagIDs           string `xml:"SimulatedTagIDs"`
	MQTTBroker       string `xml:"MQTTBroker"`
	MQTTTopic        string `xml:"MQTTTopic"`
	MQTTClientID     string `xml:"MQTTClientID"`
}

// TrackingConfig contains live tracking settings
type TrackingConfig struct {
	SiteID               int64 `xml:"SiteID"` // 0 selects the first site
	AutoConnect          bool  `xml:"AutoConnect"`
	StaleAfterSeconds    int   `xml:"StaleAfterSeconds"`
	ExpireAfterSeconds   int   `xml:"ExpireAfterSeconds"`
	SweepIntervalSeconds int   `xml:"SweepIntervalSeconds"`
	HistoryBatchSize     int   `xml:"HistoryBatchSize"`
	HistoryFlushSeconds  int   `xml:"HistoryFlushSeconds"`
}

// CRMConfig contains the directory import settings
type CRMConfig struct {
	BaseURL        string `xml:"BaseURL"`
	CompanyID      string `xml:"CompanyID"`
	APIKey         string `xml:"APIKey"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
	Mock           bool   `xml:"Mock"`
}

// RedisConfig contains the stream fan-out settings
type RedisConfig struct {
	Enabled  bool   `xml:"Enabled"`
	Addr     string `xml:"Addr"`
	Password string `xml:"Password"`
	DB       int    `xml:"DB"`
	Stream   string `xml:"Stream"`
	MaxLen   int64  `xml:"MaxLen"`
}

// RenderConfig contains the frame renderer settings
type RenderConfig struct {
	ViewportWidth   int  `xml:"ViewportWidth"`
	ViewportHeight  int  `xml:"ViewportHeight"`
	Padding         int  `xml:"Padding"`
	FrameIntervalMs int  `xml:"FrameIntervalMs"`
	GridSize        int  `xml:"GridSize"`
	ShowGrid        bool `xml:"ShowGrid"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	LogFormat               string `xml:"LogFormat"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	DuckDBThreads           int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit       string `xml:"DuckDBMemoryLimit"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
	SessionTimeoutMinutes   int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes  int    `xml:"CleanupIntervalMinutes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         48300,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "50M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/maps",
			DatabaseFile:     "./data/site-tracker.duckdb",
			SiteProfile:      "./data/site.yaml",
		},
		Feed: FeedConfig{
			Mode:             feed.ModeSimulated,
			IntervalMs:       3000,
			HandshakeDelayMs: 500,
			TagIDs:           "TAG001,TAG002",
			MQTTTopic:        "rtls/#",
		},
		Tracking: TrackingConfig{
			AutoConnect:          true,
			StaleAfterSeconds:    60,
			ExpireAfterSeconds:   0,
			SweepIntervalSeconds: 5,
			HistoryBatchSize:     500,
			HistoryFlushSeconds:  2,
		},
		CRM: CRMConfig{
			CompanyID:      "1",
			TimeoutSeconds: 10,
			Mock:           true,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  fanout.DefaultStream,
			MaxLen:  100000,
		},
		Render: RenderConfig{
			ViewportWidth:   1024,
			ViewportHeight:  768,
			Padding:         20,
			FrameIntervalMs: 100,
			GridSize:        10,
			ShowGrid:        true,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "json",
			EnableRequestLogging:    true,
			DuckDBThreads:           2,
			DuckDBMemoryLimit:       "512MB",
			WebSocketMaxMessageSize: 64,
			SessionTimeoutMinutes:   30,
			CleanupIntervalMinutes:  5,
		},
	}
}

// LoadConfig loads configuration from XML file, writing the defaults first
// when the file does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Site Tracker Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "maps")
		c.Storage.DatabaseFile = filepath.Join(dataDir, "site-tracker.duckdb")
		c.Storage.SiteProfile = filepath.Join(dataDir, "site.yaml")
	}
	if mode := os.Getenv("FEED_MODE"); mode != "" {
		c.Feed.Mode = mode
	}
	if url := os.Getenv("FEED_URL"); url != "" {
		c.Feed.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if base := os.Getenv("CRM_BASE_URL"); base != "" {
		c.CRM.BaseURL = base
		c.CRM.Mock = false
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.DatabaseFile,
		&c.Storage.SiteProfile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		filepath.Dir(c.Storage.DatabaseFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FeedClientConfig converts the Feed section for feed.New.
func (c *AppConfig) FeedClientConfig() feed.Config {
	return feed.Config{
		Mode: c.Feed.Mode,
		Simulated: feed.SimulatedConfig{
			Interval:       millis(c.Feed.IntervalMs),
			HandshakeDelay: millis(c.Feed.HandshakeDelayMs),
			TagIDs:         splitList(c.Feed.TagIDs),
		},
		Live: feed.LiveConfig{
			URL:      c.Feed.URL,
			Username: c.Feed.Username,
			Password: c.Feed.Password,
		},
		MQTT: feed.MQTTConfig{
			Broker:   c.Feed.MQTTBroker,
			ClientID: c.Feed.MQTTClientID,
			Username: c.Feed.Username,
			Password: c.Feed.Password,
			Topic:    c.Feed.MQTTTopic,
		},
	}
}

// TrackerConfig converts the Tracking section for tracker.New.
func (c *AppConfig) TrackerConfig(siteID int64) tracker.Config {
	return tracker.Config{
		SiteID:        siteID,
		StaleAfter:    seconds(c.Tracking.StaleAfterSeconds),
		ExpireAfter:   seconds(c.Tracking.ExpireAfterSeconds),
		SweepInterval: seconds(c.Tracking.SweepIntervalSeconds),
	}
}

// CRMClientConfig converts the CRM section for crm.NewClient.
func (c *AppConfig) CRMClientConfig() crm.Config {
	return crm.Config{
		BaseURL:   c.CRM.BaseURL,
		CompanyID: c.CRM.CompanyID,
		APIKey:    c.CRM.APIKey,
		Timeout:   seconds(c.CRM.TimeoutSeconds),
		Mock:      c.CRM.Mock,
	}
}

// FanoutConfig converts the Redis section for the stream publisher.
func (c *AppConfig) FanoutConfig() fanout.Config {
	return fanout.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Stream:   c.Redis.Stream,
		MaxLen:   c.Redis.MaxLen,
	}
}

// SessionTimeout returns how long finished parse sessions are kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Advanced.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often old sessions are removed.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Advanced.CleanupIntervalMinutes) * time.Minute
}

// HistoryFlush returns the history recorder flush period.
func (c *AppConfig) HistoryFlush() time.Duration {
	return seconds(c.Tracking.HistoryFlushSeconds)
}

// FrameInterval returns the render loop tick.
func (c *AppConfig) FrameInterval() time.Duration {
	return millis(c.Render.FrameIntervalMs)
}
