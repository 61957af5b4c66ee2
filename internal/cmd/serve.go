package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/copilot-import/copilot-import/internal/api"
	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/importer"
	"github.com/copilot-import/copilot-import/internal/logging"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// DoServe runs the HTTP API until ctx is cancelled. The env file is reloaded when it
// changes so a refreshed token is picked up by the next completion request; changes
// to configPath reapply the logging settings.
func DoServe(ctx context.Context, cfg *config.Config, configPath string) error {
	rt, err := NewRuntime(cfg, importer.Default)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := api.NewServer(cfg, rt.Chain, api.WithDialect(rt.Engine.Dialect()))

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.EnvFile != "" {
		go watch(watchCtx, cfg.EnvFile, func() {
			if errEnv := cfg.LoadEnv(true); errEnv != nil {
				log.Warnf("env reload failed: %v", errEnv)
				return
			}
			log.Infof("reloaded %s", cfg.EnvFile)
		})
	}
	if configPath != "" {
		go watch(watchCtx, configPath, func() { reloadLogging(configPath) })
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Infof("copilot-import serving %s modules (%s) on %s", displayNamespace(rt.Namespace), rt.Engine.Dialect(), cfg.Server.Addr())

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Stop(shutdownCtx); err != nil {
		return err
	}
	if errServe := <-errCh; errServe != nil && !errors.Is(errServe, context.Canceled) {
		return errServe
	}
	return nil
}

func watch(ctx context.Context, path string, onChange func()) {
	if err := config.WatchFile(ctx, path, onChange); err != nil {
		log.Warnf("not watching %s: %v", path, err)
	}
}

// reloadLogging reapplies the level and log file of the configuration at path.
// Other settings take effect on restart.
func reloadLogging(path string) {
	next, err := config.LoadConfig(path)
	if err != nil {
		log.Warnf("config reload failed: %v", err)
		return
	}
	ApplyLogging(next)
	log.Infof("reloaded logging settings from %s", path)
}

// ApplyLogging configures the log level and the optional rotating log file.
func ApplyLogging(cfg *config.Config) {
	logging.SetLogLevel(cfg.Logging.Level)
	if err := logging.ConfigureLogOutput(logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		log.Errorf("failed to configure log file: %v", err)
	}
}

func displayNamespace(ns string) string {
	if ns == "" {
		return "all"
	}
	return ns
}
