// Command emberd runs the reactor: it parses configuration, wires
// logging, metrics, and the database pool, then hands everything to
// a Reactor and blocks until SIGINT/SIGTERM, following the
// background-ListenAndServe-then-wait-on-signal-channel shape used for
// graceful shutdown across the pack's server entry points.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/ember/internal/config"
	"github.com/yourusername/ember/internal/dbpool"
	"github.com/yourusername/ember/internal/logging"
	"github.com/yourusername/ember/internal/metrics"
	"github.com/yourusername/ember/internal/reactor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "emberd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Enabled:   cfg.LogEnabled,
		Level:     cfg.LogLevel,
		Path:      "./logs",
		Suffix:    ".log",
		QueueSize: cfg.LogQueueSize,
	})
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	defer log.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var pool *dbpool.Pool
	if cfg.DBHost != "" {
		pool, err = dbpool.Open(dbpool.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			Size:     cfg.DBPoolSize,
		})
		if err != nil {
			return fmt.Errorf("open database pool: %w", err)
		}
		defer pool.Close()
	} else {
		log.Warnf("no database host configured: login/register requests will fall through to static file resolution")
	}

	r, err := reactor.New(cfg, pool, log, m)
	if err != nil {
		return fmt.Errorf("construct reactor: %w", err)
	}
	if err := r.Start(); err != nil {
		return fmt.Errorf("start reactor: %w", err)
	}

	metricsSrv := &http.Server{Addr: ":9115", Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics listener: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("reactor loop: %w", err)
		}
		return nil
	case <-sigCh:
		log.Infof("received shutdown signal")
		r.Shutdown()
		metricsSrv.Close()
		<-errCh
		return nil
	}
}
