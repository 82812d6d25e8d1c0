// File: cmd/wsrelay/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// wsrelay is the process entry point: it parses the CLI surface
// (SPEC_FULL.md section A.4), builds a server.Server, and blocks until
// SIGINT/SIGTERM triggers a graceful shutdown.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/corvidlabs/wsrelay/server"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		host        = flag.String("host", "0.0.0.0", "bind host")
		port        = flag.Int("port", 9999, "bind port")
		brokerHost  = flag.String("broker-host", "localhost", "Redis broker host")
		brokerPort  = flag.Int("broker-port", 6379, "Redis broker port")
		logPath     = flag.String("log-path", "", "log output file path (default: stderr)")
		pinCPU      = flag.Int("pin-cpu", -1, "pin the registry hub goroutine to this logical CPU (-1 disables)")
		tlsEnabled  = flag.Bool("tls", false, "record the TLS options in the server config (the listener stays plain TCP)")
		tlsCert     = flag.String("tls-cert", "", "TLS certificate chain path")
		tlsKey      = flag.String("tls-key", "", "TLS private key path")
		tlsDHParams = flag.String("tls-dhparams", "", "TLS DH parameters path")
		tlsCiphers  = flag.String("tls-ciphers", "", "comma-separated TLS cipher suite list")
	)
	flag.Parse()

	log, err := newLogger(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsrelay: building logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	cfg := server.DefaultConfig()
	opts := []server.ServerOption{
		server.WithHostPort(*host, *port),
		server.WithBroker(fmt.Sprintf("%s:%d", *brokerHost, *brokerPort)),
		server.WithLogger(log),
		server.WithPinCPU(*pinCPU),
	}
	if *tlsEnabled {
		opts = append(opts, server.WithTLS(&server.TLSConfig{
			CertPath:     *tlsCert,
			KeyPath:      *tlsKey,
			DHParamsPath: *tlsDHParams,
			Ciphers:      splitNonEmpty(*tlsCiphers),
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, opts...)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
			return 1
		}
		<-errCh
		return 0
	case err := <-errCh:
		if err != nil {
			log.Error("serve error", zap.Error(err))
			return 1
		}
		return 0
	}
}

func newLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if path != "" {
		cfg.OutputPaths = []string{path}
	}
	return cfg.Build()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
