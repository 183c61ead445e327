package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfigFileHumanValues(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/clip
uploads:
  max_size: 10MB
push:
  write_timeout: 2s
  keep_alive: 15
retention:
  enabled: true
  period: 7d
`)
	cfg, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.Addr())
	require.EqualValues(t, 10*1000*1000, cfg.Uploads.MaxSize)
	require.Equal(t, 2*time.Second, cfg.Push.WriteTimeout.Duration())
	require.Equal(t, 15*time.Second, cfg.Push.KeepAlive.Duration())
	require.True(t, cfg.Retention.Enabled)
}

func TestLoadConfigFileRejectsBadSize(t *testing.T) {
	p := writeConfig(t, "uploads:\n  max_size: lots\n")
	_, err := LoadConfigFile(p)
	require.Error(t, err)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 1000
	env := map[string]string{
		"CLIPSHARE_ADDR":             "10.0.0.1:7000",
		"CLIPSHARE_API_BACKEND_KEYS": "sk_one, sk_two",
		"CLIPSHARE_SESSION_TTL":      "2h",
		"CLIPSHARE_UPLOAD_MAX_SIZE":  "1KiB",
		"CLIPSHARE_RETENTION_CRON":   "*/5 * * * *",
	}
	used, err := applyEnv(cfg, func(k string) string { return env[k] })
	require.NoError(t, err)
	require.True(t, used)
	require.Equal(t, "10.0.0.1:7000", cfg.Addr())
	require.Equal(t, []string{"sk_one", "sk_two"}, cfg.Security.APIKeys.Backend)
	require.Equal(t, 2*time.Hour, cfg.Sessions.TTL.Duration())
	require.EqualValues(t, 1024, cfg.Uploads.MaxSize)
	require.Equal(t, "*/5 * * * *", cfg.Retention.Cron)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	env := map[string]string{"CLIPSHARE_RATE_BURST": "many"}
	_, err := applyEnv(&Config{}, func(k string) string { return env[k] })
	require.ErrorContains(t, err, "CLIPSHARE_RATE_BURST")

	used, err := applyEnv(&Config{}, func(string) string { return "" })
	require.NoError(t, err)
	require.False(t, used)
}

func TestLoadEffectiveConfigLayers(t *testing.T) {
	flags, err := ParseConfigFlags([]string{"-addr", "127.0.0.1:9999"})
	require.NoError(t, err)

	fileCfg := &Config{}
	fileCfg.Server.DBPath = "/data/clip"
	eff, err := LoadEffectiveConfig(flags, fileCfg, true, true)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", eff.Addr)
	require.Equal(t, "/data/clip", eff.DBPath)
	require.Equal(t, "config+env+flags", eff.Source)

	flags, err = ParseConfigFlags([]string{"-config", "/missing.yaml"})
	require.NoError(t, err)
	_, err = LoadEffectiveConfig(flags, &Config{}, false, false)
	require.Error(t, err)

	flags, err = ParseConfigFlags(nil)
	require.NoError(t, err)
	eff, err = LoadEffectiveConfig(flags, nil, false, false)
	require.NoError(t, err)
	require.Equal(t, "./.clipshare", eff.DBPath)
	require.Equal(t, "defaults", eff.Source)
}

func TestValidateConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Server.DBPath = "/tmp/x"
	require.NoError(t, ValidateConfig(EffectiveConfigResult{Config: cfg, DBPath: "/tmp/x"}))
	require.Equal(t, time.Hour, cfg.Sessions.TTL.Duration())
	require.Equal(t, "0 * * * *", cfg.Retention.Cron)
	require.Equal(t, 50, cfg.Uploads.HistoryLimit)
}

func TestValidateConfigFailures(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		db   string
	}{
		{name: "no db", mut: func(c *Config) {}, db: ""},
		{name: "bad cron", mut: func(c *Config) { c.Retention.Cron = "every tuesday" }, db: "x"},
		{name: "bad period", mut: func(c *Config) { c.Retention.Period = "soon" }, db: "x"},
		{name: "half tls", mut: func(c *Config) { c.Server.TLS.CertFile = "cert.pem" }, db: "x"},
		{name: "disk thresholds", mut: func(c *Config) { c.Sensor.Monitor.DiskLowPct = 95 }, db: "x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{}
			c.mut(cfg)
			if err := ValidateConfig(EffectiveConfigResult{Config: cfg, DBPath: c.db}); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParsePeriod(t *testing.T) {
	d, err := ParsePeriod("30d")
	require.NoError(t, err)
	require.Equal(t, 30*24*time.Hour, d)

	d, err = ParsePeriod("90m")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	_, err = ParsePeriod("-1h")
	require.Error(t, err)
	_, err = ParsePeriod("0d")
	require.Error(t, err)
}

func TestRuntimeKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Security.APIKeys.Backend = []string{"b1"}
	cfg.Security.APIKeys.Admin = []string{"a1"}
	SetRuntime(NewRuntime(cfg))
	t.Cleanup(func() { SetRuntime(nil) })

	require.Contains(t, GetBackendKeys(), "b1")
	require.Contains(t, GetSigningKeys(), "b1")
	require.Contains(t, GetAdminKeys(), "a1")
	require.NotContains(t, GetBackendKeys(), "a1")
}
