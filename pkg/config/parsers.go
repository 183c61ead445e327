package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr    string
	DB      string
	Config  string
	Version bool
	Set     map[string]bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source lists the layers that contributed, e.g. "config+env+flags".
	Source string
}

// parses command-line flags; only the listen address, db path and config
// file can be given on the command line
func ParseConfigFlags(args []string) (Flags, error) {
	fset := flag.NewFlagSet("clipshare-server", flag.ContinueOnError)
	addrPtr := fset.String("addr", ":8080", "HTTP listen address")
	dbPtr := fset.String("db", "./.clipshare", "Pebble DB path")
	cfgPtr := fset.String("config", "./config.yaml", "Path to config file")
	verPtr := fset.Bool("version", false, "Print version and exit")
	if err := fset.Parse(args); err != nil {
		return Flags{}, err
	}

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Version: *verPtr, Set: setFlags}, nil
}

// loads config from file, returns config and whether the file existed
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// env lookups are indirect so tests can feed a map
type lookupFunc func(string) string

// ApplyEnv overlays CLIPSHARE_* variables onto cfg and reports whether any
// were set.
func ApplyEnv(cfg *Config) (bool, error) {
	return applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv lookupFunc) (bool, error) {
	used := false
	get := func(name string) string {
		v := strings.TrimSpace(getenv("CLIPSHARE_" + name))
		if v != "" {
			used = true
		}
		return v
	}
	var errs []error
	fail := func(name string, err error) {
		errs = append(errs, fmt.Errorf("CLIPSHARE_%s: %w", name, err))
	}

	if v := get("ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := get("PORT"); v != "" {
		if pi, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = pi
		} else {
			fail("PORT", err)
		}
	}
	if v := get("DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := get("TLS_CERT"); v != "" {
		cfg.Server.TLS.CertFile = v
	}
	if v := get("TLS_KEY"); v != "" {
		cfg.Server.TLS.KeyFile = v
	}

	if v := get("CORS_ORIGINS"); v != "" {
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := get("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.RateLimit.RPS = f
		} else {
			fail("RATE_RPS", err)
		}
	}
	if v := get("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimit.Burst = n
		} else {
			fail("RATE_BURST", err)
		}
	}
	if v := get("IP_WHITELIST"); v != "" {
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := get("API_BACKEND_KEYS"); v != "" {
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := get("API_ADMIN_KEYS"); v != "" {
		cfg.Security.APIKeys.Admin = parseList(v)
	}

	if v := get("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := get("LOG_AUDIT"); v != "" {
		cfg.Logging.Audit = parseBool(v)
	}

	if v := get("SESSION_TTL"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Sessions.TTL = d
		} else {
			fail("SESSION_TTL", err)
		}
	}
	if v := get("UPLOAD_MAX_SIZE"); v != "" {
		if s, err := ParseSize(v); err == nil {
			cfg.Uploads.MaxSize = s
		} else {
			fail("UPLOAD_MAX_SIZE", err)
		}
	}
	if v := get("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Uploads.HistoryLimit = n
		} else {
			fail("HISTORY_LIMIT", err)
		}
	}
	if v := get("PUSH_WRITE_TIMEOUT"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Push.WriteTimeout = d
		} else {
			fail("PUSH_WRITE_TIMEOUT", err)
		}
	}
	if v := get("PUSH_MAX_PENDING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Push.MaxPending = n
		} else {
			fail("PUSH_MAX_PENDING", err)
		}
	}
	if v := get("PUSH_KEEP_ALIVE"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Push.KeepAlive = d
		} else {
			fail("PUSH_KEEP_ALIVE", err)
		}
	}

	// data retention
	if v := get("RETENTION_ENABLED"); v != "" {
		cfg.Retention.Enabled = parseBool(v)
	}
	if v := get("RETENTION_CRON"); v != "" {
		cfg.Retention.Cron = v
	}
	if v := get("RETENTION_PERIOD"); v != "" {
		cfg.Retention.Period = v
	}
	if v := get("RETENTION_DRY_RUN"); v != "" {
		cfg.Retention.DryRun = parseBool(v)
	}
	if v := get("RETENTION_LOCK_TTL"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Retention.LockTTL = d
		} else {
			fail("RETENTION_LOCK_TTL", err)
		}
	}

	// sensor.monitor
	if v := get("SENSOR_POLL_INTERVAL"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			cfg.Sensor.Monitor.PollInterval = d
		} else {
			fail("SENSOR_POLL_INTERVAL", err)
		}
	}
	if v := get("SENSOR_DISK_HIGH_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sensor.Monitor.DiskHighPct = n
		} else {
			fail("SENSOR_DISK_HIGH_PCT", err)
		}
	}
	if v := get("SENSOR_DISK_LOW_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sensor.Monitor.DiskLowPct = n
		} else {
			fail("SENSOR_DISK_LOW_PCT", err)
		}
	}

	return used, errors.Join(errs...)
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadEffectiveConfig layers the sources: config file first, then
// environment, then explicitly set flags.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envUsed bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}
	cfg := fileCfg
	if cfg == nil {
		cfg = &Config{}
	}

	var sources []string
	if fileExists {
		sources = append(sources, "config")
	}
	if envUsed {
		sources = append(sources, "env")
	}
	if flags.Set["addr"] {
		h, p, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return res, fmt.Errorf("invalid -addr %q: %w", flags.Addr, err)
		}
		cfg.Server.Address = h
		cfg.Server.Port = parsePort(p)
	}
	if flags.Set["db"] || cfg.Server.DBPath == "" {
		cfg.Server.DBPath = flags.DB
	}
	if flags.Set["addr"] || flags.Set["db"] {
		sources = append(sources, "flags")
	}
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}

	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	res.Source = strings.Join(sources, "+")
	return res, nil
}

// extracts port integer; empty means the default
func parsePort(p string) int {
	if pi, err := strconv.Atoi(p); err == nil {
		return pi
	}
	return 0
}
