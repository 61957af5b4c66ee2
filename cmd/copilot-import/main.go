// Package main provides the entry point for copilot-import.
// It synthesizes functions from their names with a code-completion model and
// runs them in an embedded interpreter, either one-shot from the command line
// or behind an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/copilot-import/copilot-import/internal/cmd"
	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		login      bool
		noBrowser  bool
		saveEnv    bool
		source     string
		rendered   bool
		call       string
		run        string
		serve      bool
		showLogs   bool
		logLines   int
		jsonOutput bool
		configPath string
		logLevel   string
		dialect    string
		showVer    bool
	)

	flag.BoolVar(&login, "login", false, "Log in with a GitHub device code and print a Copilot token")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the verification URL automatically")
	flag.BoolVar(&saveEnv, "save-env", false, "Write the token obtained by -login into the env file")
	flag.StringVar(&source, "source", "", "Synthesize a function and print its source")
	flag.BoolVar(&rendered, "rendered", false, "Print the source with guessed imports (used with -source)")
	flag.StringVar(&call, "call", "", "Synthesize a function and call it with the remaining arguments")
	flag.StringVar(&run, "run", "", "Run a starlark script that loads synthesized functions")
	flag.BoolVar(&serve, "serve", false, "Serve the HTTP API")
	flag.BoolVar(&showLogs, "logs", false, "View recent logs of a running server and exit")
	flag.IntVar(&logLines, "n", cmd.DefaultLogLines, "Number of log lines to show (used with -logs)")
	flag.BoolVar(&jsonOutput, "json", false, "Output in JSON format (used with -logs)")
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flag.StringVar(&dialect, "dialect", "", "Override the configured sandbox dialect (starlark or go)")
	flag.BoolVar(&showVer, "version", false, "Show version and exit")
	flag.Parse()

	if showVer {
		fmt.Printf("copilot-import Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	if configPath == "" {
		configPath = os.Getenv("COPILOT_IMPORT_CONFIG")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if dialect != "" {
		cfg.Sandbox.Dialect = dialect
		if err = cfg.Validate(); err != nil {
			log.Fatal(err)
		}
	}
	cmd.ApplyLogging(cfg)
	defer logging.CloseLogOutput()

	if err = cfg.LoadEnv(false); err != nil {
		log.Warn(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case login:
		_, err = cmd.DoLogin(ctx, cfg, &cmd.LoginOptions{NoBrowser: noBrowser, SaveEnv: saveEnv})
	case source != "":
		err = cmd.DoSource(ctx, cfg, source, rendered)
	case call != "":
		_, err = cmd.DoCall(ctx, cfg, call, flag.Args())
	case run != "":
		err = cmd.DoRun(ctx, cfg, run)
	case showLogs:
		if err = cmd.ShowLogs(ctx, cfg, logLines, jsonOutput); err != nil {
			log.Error(err)
		}
	case serve:
		if err = cmd.DoServe(ctx, cfg, configPath); err != nil {
			log.Errorf("server stopped: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logging.CloseLogOutput()
		os.Exit(1)
	}
}
