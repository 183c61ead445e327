package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort = 8080

	defaultSessionTTL = time.Hour

	defaultUploadMaxSize      = 64 * 1024 * 1024
	defaultUploadHistoryLimit = 50

	defaultPushWriteTimeout = 10 * time.Second
	defaultPushMaxPending   = 256
	defaultPushKeepAlive    = 25 * time.Second

	defaultRateRPS   = 50
	defaultRateBurst = 100

	// Retention defaults
	defaultRetentionLockTTL = 300 * time.Second
	defaultRetentionCron    = "0 * * * *" // hourly
	defaultRetentionPeriod  = "30d"

	// sensor defaults
	defaultSensorPollInterval   = 2 * time.Second
	defaultSensorDiskHighPct    = 90
	defaultSensorDiskLowPct     = 80
	defaultSensorMemHighPct     = 90
	defaultSensorRecoveryWindow = 5 * time.Second
)

// RuntimeConfig holds runtime key sets for use by other packages.
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	AdminKeys   map[string]struct{}
	// SigningKeys are the secrets user signatures are checked against.
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the global runtime config.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// NewRuntime derives the key sets from cfg. Backend keys double as signing
// keys.
func NewRuntime(cfg *Config) *RuntimeConfig {
	rc := &RuntimeConfig{
		BackendKeys: map[string]struct{}{},
		AdminKeys:   map[string]struct{}{},
		SigningKeys: map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		rc.BackendKeys[k] = struct{}{}
		rc.SigningKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		rc.AdminKeys[k] = struct{}{}
	}
	return rc
}

func copyKeys(pick func(*RuntimeConfig) map[string]struct{}) map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := make(map[string]struct{})
	if runtimeCfg == nil {
		return out
	}
	for k := range pick(runtimeCfg) {
		out[k] = struct{}{}
	}
	return out
}

// GetBackendKeys returns a copy of backend API keys.
func GetBackendKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.BackendKeys })
}

// GetAdminKeys returns a copy of admin API keys.
func GetAdminKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.AdminKeys })
}

// GetSigningKeys returns a copy of signing keys.
func GetSigningKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.SigningKeys })
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Sessions.TTL.Duration() == 0 {
		c.Sessions.TTL = Duration(defaultSessionTTL)
	}

	if c.Uploads.MaxSize.Int64() == 0 {
		c.Uploads.MaxSize = SizeBytes(defaultUploadMaxSize)
	}
	if c.Uploads.HistoryLimit <= 0 {
		c.Uploads.HistoryLimit = defaultUploadHistoryLimit
	}

	if c.Push.WriteTimeout.Duration() == 0 {
		c.Push.WriteTimeout = Duration(defaultPushWriteTimeout)
	}
	if c.Push.MaxPending <= 0 {
		c.Push.MaxPending = defaultPushMaxPending
	}
	if c.Push.KeepAlive.Duration() == 0 {
		c.Push.KeepAlive = Duration(defaultPushKeepAlive)
	}

	// Security defaults: rate limiting
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}

	// Sensor monitor defaults
	if c.Sensor.Monitor.PollInterval.Duration() == 0 {
		c.Sensor.Monitor.PollInterval = Duration(defaultSensorPollInterval)
	}
	if c.Sensor.Monitor.DiskHighPct == 0 {
		c.Sensor.Monitor.DiskHighPct = defaultSensorDiskHighPct
	}
	if c.Sensor.Monitor.DiskLowPct == 0 {
		c.Sensor.Monitor.DiskLowPct = defaultSensorDiskLowPct
	}
	if c.Sensor.Monitor.MemHighPct == 0 {
		c.Sensor.Monitor.MemHighPct = defaultSensorMemHighPct
	}
	if c.Sensor.Monitor.RecoveryWindow.Duration() == 0 {
		c.Sensor.Monitor.RecoveryWindow = Duration(defaultSensorRecoveryWindow)
	}

	// Retention defaults
	if c.Retention.LockTTL.Duration() == 0 {
		c.Retention.LockTTL = Duration(defaultRetentionLockTTL)
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.Period == "" {
		c.Retention.Period = defaultRetentionPeriod
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CLIPSHARE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
