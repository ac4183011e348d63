package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds everything the client needs: where the widget gateway
// listens, how to reach the remote document stores, and the cadence of
// the polling tasks. All intervals are configuration, not behavior baked
// into the synchronizer.
type Config struct {
	ListenAddr     string
	DataDir        string
	Username       string
	AllowedOrigins []string

	Gist GistConfig
	Bin  BinConfig

	DiscoveryInterval time.Duration
	MessageInterval   time.Duration
	CleanupInterval   time.Duration
	RequestTimeout    time.Duration

	RegistryTTL time.Duration
	RoomTTL     time.Duration

	MessageCapacity int
}

// GistConfig configures the gist-style document store. Token empty means
// the store is skipped and the client runs without it.
type GistConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	// DocumentID pins an existing signaling document; left empty, the
	// client creates one on first write and remembers it locally.
	DocumentID string `toml:"document_id"`
}

// BinConfig configures the shared-bin document store.
type BinConfig struct {
	BaseURL   string `toml:"base_url"`
	ID        string `toml:"id"`
	AccessKey string `toml:"access_key"`
}

func Default() *Config {
	return &Config{
		ListenAddr:        "localhost:8070",
		AllowedOrigins:    []string{"http://localhost:8070"},
		Gist:              GistConfig{BaseURL: "https://api.github.com"},
		Bin:               BinConfig{BaseURL: "https://bin.gistchat.dev"},
		DiscoveryInterval: 4 * time.Second,
		MessageInterval:   2500 * time.Millisecond,
		CleanupInterval:   30 * time.Second,
		RequestTimeout:    5 * time.Second,
		RegistryTTL:       time.Hour,
		RoomTTL:           10 * time.Minute,
		MessageCapacity:   100,
	}
}

// duration decodes TOML strings like "4s" or "2500ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// fileConfig mirrors the TOML file shape. Pointer fields distinguish
// "absent" from "zero" so the file only overrides what it names.
type fileConfig struct {
	ListenAddr     *string   `toml:"listen_addr"`
	DataDir        *string   `toml:"data_dir"`
	Username       *string   `toml:"username"`
	AllowedOrigins *[]string `toml:"allowed_origins"`

	Gist *GistConfig `toml:"gist"`
	Bin  *BinConfig  `toml:"bin"`

	DiscoveryInterval *duration `toml:"discovery_interval"`
	MessageInterval   *duration `toml:"message_interval"`
	CleanupInterval   *duration `toml:"cleanup_interval"`
	RequestTimeout    *duration `toml:"request_timeout"`
	RegistryTTL       *duration `toml:"registry_ttl"`
	RoomTTL           *duration `toml:"room_ttl"`

	MessageCapacity *int `toml:"message_capacity"`
}

// Load reads a TOML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	fc.apply(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}

	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.Username, fc.Username)
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = *fc.AllowedOrigins
	}
	if fc.Gist != nil {
		if fc.Gist.BaseURL == "" {
			fc.Gist.BaseURL = cfg.Gist.BaseURL
		}
		cfg.Gist = *fc.Gist
	}
	if fc.Bin != nil {
		if fc.Bin.BaseURL == "" {
			fc.Bin.BaseURL = cfg.Bin.BaseURL
		}
		cfg.Bin = *fc.Bin
	}
	setDuration(&cfg.DiscoveryInterval, fc.DiscoveryInterval)
	setDuration(&cfg.MessageInterval, fc.MessageInterval)
	setDuration(&cfg.CleanupInterval, fc.CleanupInterval)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	setDuration(&cfg.RegistryTTL, fc.RegistryTTL)
	setDuration(&cfg.RoomTTL, fc.RoomTTL)
	if fc.MessageCapacity != nil {
		cfg.MessageCapacity = *fc.MessageCapacity
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.DiscoveryInterval <= 0 {
		return fmt.Errorf("discovery interval must be positive")
	}
	if c.MessageInterval <= 0 {
		return fmt.Errorf("message interval must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.RegistryTTL <= 0 || c.RoomTTL <= 0 {
		return fmt.Errorf("ttls must be positive")
	}
	if c.MessageCapacity <= 0 {
		return fmt.Errorf("message capacity must be positive")
	}
	if c.Gist.Token != "" && c.Gist.BaseURL == "" {
		return fmt.Errorf("gist base URL cannot be empty when a token is set")
	}
	if c.Bin.ID != "" && c.Bin.BaseURL == "" {
		return fmt.Errorf("bin base URL cannot be empty when a bin id is set")
	}
	return nil
}
