package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"visitsync/internal/config"
	"visitsync/internal/daemon"
	"visitsync/internal/ipc"
	"visitsync/internal/logging"
	"visitsync/internal/offline"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ~/.config/visitsync/config.toml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	svc, err := offline.NewService(cfg, logger)
	if err != nil {
		logger.Error("create offline service", logging.Error(err))
		os.Exit(1)
	}

	d, err := daemon.New(cfg, svc, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = svc.Close()
		os.Exit(1)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		os.Exit(1)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("visitsyncd shutting down")
}
