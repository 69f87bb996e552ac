// Package main runs one-shot session store maintenance: schema init, listing,
// deletion and expiry sweeps.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	entrypoint "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/cmd"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/config"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/tools/maintenance"
)

func main() {
	cfg, err := maintenance.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	err = entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMaintenance, func(ctx context.Context) error {
		return maintenance.Run(ctx, cfg, os.Stdout, os.Stderr)
	})
	config.ExitOnError("maintenance", err)
}
