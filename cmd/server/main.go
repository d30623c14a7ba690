// Package main starts the room relay server and handles termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomrelay/internal/persist"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

const serviceName = "roomrelay"

func main() {
	log.Println("Starting room relay server...")

	cfg, err := server.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		log.Fatalf("setup telemetry: %v", err)
	}

	appender, err := persist.Open(ctx, cfg.Persist)
	if err != nil {
		log.Fatalf("open persistence: %v", err)
	}

	srv := server.New(*cfg, server.Deps{Appender: appender, Metrics: telemetry.Global()})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				return srv.Stop(ctx)
			},
			"telemetry": func(ctx context.Context) error {
				return shutdownTelemetry(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
