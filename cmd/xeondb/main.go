// Command xeondb is the server entrypoint: it loads the YAML config,
// opens the catalog (which recovers every table engine), starts the TCP
// server, and blocks for a clean SIGINT/SIGTERM shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"xeondb/internal/catalog"
	"xeondb/internal/config"
	"xeondb/internal/executor"
	"xeondb/internal/logging"
	"xeondb/internal/server"
)

func main() {
	cmd := &cli.Command{
		Name:  "xeondb",
		Usage: "single-node row-oriented key/value database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "path to the YAML config file",
				Required: true,
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "xeondb:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		FilePath: os.Getenv("XEONDB_LOG_FILE"),
		Debug:    os.Getenv("XEONDB_DEBUG") != "",
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting xeondb",
		zap.String("host", cfg.Host),
		zap.Uint16("port", cfg.Port),
		zap.String("dataDir", cfg.DataDir),
		zap.String("walFsync", string(cfg.WALFsync)),
		zap.Bool("authEnabled", cfg.Auth != nil),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cat, err := catalog.Open(cfg.DataDir, cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	exec := executor.New(cat, cfg.Auth != nil, log)

	srv := server.New(server.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		MaxLineBytes:   cfg.MaxLineBytes,
		MaxConnections: cfg.MaxConnections,
	}, exec, log)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	fmt.Printf("Listening host=%s port=%d\n", cfg.Host, cfg.Port)
	log.Info("listening", zap.String("host", cfg.Host), zap.Uint16("port", cfg.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	srv.Stop()
	log.Info("shutdown complete")
	return nil
}
