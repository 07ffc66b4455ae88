// Package judge parses judge command flags and starts the service.
package judge

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/rplusq/run-judge/internal/platform/cmd"
	server "github.com/rplusq/run-judge/internal/services/judge/app"
	"github.com/rplusq/run-judge/internal/services/judge/settle"
)

// Config holds judge command configuration.
type Config struct {
	Addr        string `env:"RUN_JUDGE_HTTP_ADDR" envDefault:":8090"`
	DBPath      string `env:"RUN_JUDGE_DB_PATH" envDefault:"judge.db"`
	Environment string `env:"RUN_JUDGE_ENVIRONMENT" envDefault:"development"`

	RPCURL          string `env:"RUN_JUDGE_RPC_URL"`
	ContractAddress string `env:"RUN_JUDGE_CONTRACT_ADDRESS"`
	SignerKey       string `env:"RUN_JUDGE_SIGNER_KEY"`

	StravaCookiesB64 string `env:"RUN_JUDGE_STRAVA_COOKIES_B64"`
	StravaBaseURL    string `env:"RUN_JUDGE_STRAVA_BASE_URL"`
	Headful          bool   `env:"RUN_JUDGE_HEADFUL"`

	ModelAPIKey  string `env:"RUN_JUDGE_MODEL_API_KEY"`
	ModelBaseURL string `env:"RUN_JUDGE_MODEL_BASE_URL"`
	Model        string `env:"RUN_JUDGE_MODEL" envDefault:"google/gemini-2.0-flash-001"`

	AuthHMACKey string `env:"RUN_JUDGE_AUTH_HMAC_KEY"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The judge server listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The settlement database path")
	fs.StringVar(&cfg.Environment, "env", cfg.Environment, "Deployment environment (development|production)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// environment maps the configured environment name to a settlement
// environment.
func (c Config) environment() (settle.Environment, error) {
	switch c.Environment {
	case string(settle.EnvDevelopment), "":
		return settle.EnvDevelopment, nil
	case string(settle.EnvProduction):
		return settle.EnvProduction, nil
	default:
		return "", fmt.Errorf("unknown environment %q", c.Environment)
	}
}

// Run starts the judge service.
func Run(ctx context.Context, cfg Config) error {
	env, err := cfg.environment()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceJudge, func(ctx context.Context) error {
		srv, err := server.New(ctx, server.Config{
			HTTPAddr:         cfg.Addr,
			DBPath:           cfg.DBPath,
			Environment:      env,
			RPCURL:           cfg.RPCURL,
			ContractAddress:  cfg.ContractAddress,
			SignerKey:        cfg.SignerKey,
			StravaCookiesB64: cfg.StravaCookiesB64,
			StravaBaseURL:    cfg.StravaBaseURL,
			Headless:         !cfg.Headful,
			ModelAPIKey:      cfg.ModelAPIKey,
			ModelBaseURL:     cfg.ModelBaseURL,
			Model:            cfg.Model,
			AuthHMACKey:      cfg.AuthHMACKey,
		})
		if err != nil {
			return err
		}
		defer srv.Close()
		return srv.ListenAndServe(ctx)
	})
}
