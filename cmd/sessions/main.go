// Package main starts the session persistence service and handles termination.
//
// The process owns the session store connection pool, serves the HTTP API and
// sweeps expired sessions in the background.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	sessionscmd "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/cmd/sessions"
)

func main() {
	cfg, err := sessionscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SESSIONS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sessionscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
