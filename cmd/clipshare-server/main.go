package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"clipshare/internal/app"
	"clipshare/pkg/config"
	"clipshare/pkg/state"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/state/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.Version {
		fmt.Printf("clipshare-server %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err, flags.DB)
	}
	envUsed, err := config.ApplyEnv(fileCfg)
	if err != nil {
		shutdown.Abort("failed to read environment", err, flags.DB)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envUsed)
	if err != nil {
		shutdown.Abort("failed to build effective config", err, flags.DB)
	}
	if err := config.ValidateConfig(eff); err != nil {
		shutdown.Abort("invalid configuration", err, eff.DBPath)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	if err := state.Init(eff.DBPath); err != nil {
		shutdown.Abort(fmt.Sprintf("failed to ensure state directories under %s", eff.DBPath), err, eff.DBPath)
	}

	// anything that panics past this point leaves a crash dump behind
	defer func() {
		if r := recover(); r != nil {
			state.Crash("panic", fmt.Errorf("%v", r))
		}
	}()

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_incomplete", "error", err)
	}
	if runErr != nil {
		shutdown.Abort("app run failed", runErr, eff.DBPath)
	}
}
