package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/copilot-import/copilot-import/internal/auth/copilot"
	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/logging"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the login command.
type LoginOptions struct {
	// NoBrowser indicates whether to skip opening the browser automatically.
	NoBrowser bool

	// SaveEnv writes the obtained token into cfg.EnvFile.
	SaveEnv bool

	// Auth overrides are applied to the authenticator, mainly for tests.
	Auth []copilot.Option
}

// DoLogin runs the GitHub device-code login and prints the Copilot token.
func DoLogin(ctx context.Context, cfg *config.Config, options *LoginOptions) (*copilot.LoginResult, error) {
	if options == nil {
		options = &LoginOptions{}
	}
	if options.NoBrowser {
		cfg.Auth.NoBrowser = true
	}

	opts := append([]copilot.Option{copilot.WithConsole(logging.NewConsole(Output))}, options.Auth...)
	res, err := copilot.NewCopilotAuth(cfg, opts...).Login(ctx)
	if err != nil {
		log.Errorf("Copilot authentication failed: %v", err)
		return res, err
	}
	if res.State != copilot.StateSuccess {
		return res, nil
	}

	if options.SaveEnv {
		if err = saveToken(cfg, res.Token.Token); err != nil {
			log.Errorf("Failed to save token: %v", err)
			return res, err
		}
		_, _ = fmt.Fprintf(Output, "Token saved to %s\n", cfg.EnvFile)
	}
	return res, nil
}

// saveToken merges the token into the dotenv file, keeping other keys.
func saveToken(cfg *config.Config, token string) error {
	if cfg.EnvFile == "" {
		return errors.New("no env-file configured")
	}
	env := map[string]string{}
	if _, err := os.Stat(cfg.EnvFile); err == nil {
		if env, err = godotenv.Read(cfg.EnvFile); err != nil {
			return fmt.Errorf("read %s: %w", cfg.EnvFile, err)
		}
	}
	env[cfg.TokenEnv] = token
	return godotenv.Write(env, cfg.EnvFile)
}
