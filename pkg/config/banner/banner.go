package banner

import (
	"fmt"
	"io"

	"clipshare/pkg/config"
)

const banner = `
  ___ _ _      ___ _
 / __| (_)_ __/ __| |_  __ _ _ _ ___
| (__| | | '_ \__ \ ' \/ _' | '_/ -_)
 \___|_|_| .__/___/_||_\__,_|_| \___|
         |_|
`

// PrintWithEff prints the banner and a readiness checklist for the effective
// config.
func PrintWithEff(w io.Writer, eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)

	cfg := eff.Config
	if cfg == nil {
		return
	}

	fmt.Fprintln(w, "\n== Production? =================================================")
	if be := len(cfg.Security.APIKeys.Backend); be > 0 {
		fmt.Fprintf(w, "- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Fprintln(w, "- Backend API keys: MISSING (users cannot be signed in)")
	}
	if ak := len(cfg.Security.APIKeys.Admin); ak > 0 {
		fmt.Fprintf(w, "- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Fprintln(w, "- Admin API keys: MISSING (admin routes disabled)")
	}
	if cfg.Server.TLS.CertFile != "" {
		fmt.Fprintln(w, "- TLS: enabled")
	} else {
		fmt.Fprintln(w, "- TLS: disabled")
	}
	fmt.Fprintf(w, "- Uploads: up to %s, %d items of history\n", cfg.Uploads.MaxSize, cfg.Uploads.HistoryLimit)
	fmt.Fprintf(w, "- Sessions: %s\n", cfg.Sessions.TTL.Duration())

	if cfg.Retention.Enabled {
		fmt.Fprintf(w, "- Retention: enabled (cron=%s, period=%s)\n", cfg.Retention.Cron, cfg.Retention.Period)
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
	fmt.Fprintln(w)
}
