package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Default timing values for the bridge connection. The bridge target's
// protocol has no framing or request ids, so these intervals are the only
// pacing mechanism the core has.
const (
	DefaultEndpoint          = "ws://localhost:31375"
	DefaultHeartbeatInterval = time.Second
	DefaultReconnectInterval = 10 * time.Second
	DefaultRequestTimeout    = 2 * time.Second
	DefaultLibraryExtension  = ".itemlib"
)

// DefaultScopes is the permission set the bridge target must grant before
// the core can write code, move the player, or edit the inventory.
var DefaultScopes = []string{"write_code", "movement", "inventory"}

// Config is the root modlink configuration, loaded from modlink.yml or
// modlink.toml.
type Config struct {
	Bridge   BridgeConfig  `yaml:"bridge" toml:"bridge"`
	Projects []string      `yaml:"projects" toml:"projects"`
	Library  LibraryConfig `yaml:"library" toml:"library"`
	Daemon   DaemonConfig  `yaml:"daemon" toml:"daemon"`

	// Extensions holds raw top-level sections not owned by the core
	// (e.g. "logging"); decode them with UnmarshalExtension.
	Extensions map[string]interface{} `yaml:"-" toml:"-"`
}

// BridgeConfig configures the bridge-target connection.
type BridgeConfig struct {
	// Endpoint is the bridge target's websocket address.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	// HeartbeatInterval paces the mode/inventory polling loop (duration string).
	HeartbeatInterval string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	// ReconnectInterval paces redial attempts while disconnected.
	ReconnectInterval string `yaml:"reconnect_interval" toml:"reconnect_interval"`
	// RequestTimeout bounds every correlated request.
	RequestTimeout string `yaml:"request_timeout" toml:"request_timeout"`
	// AutoConnect enables the background redial loop. Defaults to true.
	AutoConnect *bool `yaml:"auto_connect" toml:"auto_connect"`
	// Scopes is the permission set requested on connect.
	Scopes []string `yaml:"scopes" toml:"scopes"`
}

// LibraryConfig configures item library discovery.
type LibraryConfig struct {
	// Extension is the file extension library files are discovered by.
	Extension string `yaml:"extension" toml:"extension"`
}

// DaemonConfig configures the daemon's local API surface.
type DaemonConfig struct {
	Socket  string `yaml:"socket" toml:"socket"`
	PidFile string `yaml:"pid_file" toml:"pid_file"`
}

// SetDefaults fills zero-valued fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Bridge.Endpoint == "" {
		c.Bridge.Endpoint = DefaultEndpoint
	}
	if c.Bridge.AutoConnect == nil {
		enabled := true
		c.Bridge.AutoConnect = &enabled
	}
	if len(c.Bridge.Scopes) == 0 {
		c.Bridge.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.Library.Extension == "" {
		c.Library.Extension = DefaultLibraryExtension
	}
}

// HeartbeatInterval returns the parsed heartbeat interval or its default.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDuration(c.Bridge.HeartbeatInterval, DefaultHeartbeatInterval)
}

// ReconnectInterval returns the parsed reconnect interval or its default.
func (c *Config) ReconnectInterval() time.Duration {
	return parseDuration(c.Bridge.ReconnectInterval, DefaultReconnectInterval)
}

// RequestTimeout returns the parsed request timeout or its default.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Bridge.RequestTimeout, DefaultRequestTimeout)
}

// AutoConnect reports whether the redial loop is enabled.
func (c *Config) AutoConnect() bool {
	return c.Bridge.AutoConnect == nil || *c.Bridge.AutoConnect
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// UnmarshalExtension decodes a specific extension's configuration from the
// raw config map into a strongly-typed target struct.
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// Not an error: the target simply stays zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
