package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	judgecmd "github.com/rplusq/run-judge/internal/cmd/judge"
)

func main() {
	cfg, err := judgecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[JUDGE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := judgecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
