package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/sealedsale/pkg/config"
	"github.com/betbot/sealedsale/pkg/logger"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		configPath      = flag.String("config", getenv("SEALEDSALE_CONFIG", ""), "config file (.yaml/.yml/.json)")
		listenAddr      = flag.String("listen", "", "HTTP listen address (overrides config)")
		shutdownTimeout = flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Errorf("init server failed: %v", err)
		os.Exit(1)
	}
	defer a.close(*shutdownTimeout)

	if err := a.serve(ctx); err != nil {
		logger.Errorf("%v", err)
	}
	fmt.Println("server stopped")
}
