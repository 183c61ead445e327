package config

import (
	"fmt"
	"os"

	"github.com/adhocore/gronx"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	// DB path must be present
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, CLIPSHARE_DB_PATH env, or server.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Sessions.TTL.Duration() < 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if cfg.Uploads.MaxSize.Int64() < 0 {
		return fmt.Errorf("uploads.max_size must be positive")
	}

	mon := cfg.Sensor.Monitor
	if mon.DiskHighPct > 100 || mon.DiskLowPct > 100 || mon.MemHighPct > 100 {
		return fmt.Errorf("sensor.monitor percentages must be at most 100")
	}
	if mon.DiskLowPct >= mon.DiskHighPct {
		return fmt.Errorf("sensor.monitor.disk_low_pct (%d) must be below disk_high_pct (%d)", mon.DiskLowPct, mon.DiskHighPct)
	}

	// Retention validation: cron syntax and period.
	ret := cfg.Retention
	gron := gronx.New()
	if !gron.IsValid(ret.Cron) {
		return fmt.Errorf("invalid retention.cron %q: not a valid cron expression", ret.Cron)
	}
	if _, err := ParsePeriod(ret.Period); err != nil {
		return fmt.Errorf("invalid retention.period: %w", err)
	}

	return nil
}
