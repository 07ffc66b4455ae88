package judge

import (
	"context"
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("judge", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":8090" {
		t.Fatalf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.Environment != "development" {
		t.Fatalf("unexpected default environment %q", cfg.Environment)
	}
}

func TestParseConfigFlagOverrides(t *testing.T) {
	fs := flag.NewFlagSet("judge", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", ":7000", "-db", "/tmp/judge.db", "-env", "production"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.DBPath != "/tmp/judge.db" || cfg.Environment != "production" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestRunRejectsUnknownEnvironment(t *testing.T) {
	err := Run(context.Background(), Config{Environment: "staging"})
	if err == nil {
		t.Fatal("expected error for unknown environment")
	}
}
