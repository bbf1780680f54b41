package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-gateway/src/config"
	"market-gateway/src/gateway"
	"market-gateway/src/logger"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file, .env and GATEWAY_* variables
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(logger.Options{
		Level:  conf.App.LogLevel,
		Format: conf.App.LogFormat,
	}, conf.App.Name)
	defer appLogger.Sync()

	gw, err := gateway.New(conf, appLogger, gateway.Overrides{})
	if err != nil {
		appLogger.Critical("Failed to build gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := gw.Run(ctx)
	if err := gw.Close(); err != nil {
		appLogger.Warning("Closing archive: %v", err)
	}
	if runErr != nil {
		appLogger.Error("Gateway stopped with error: %v", runErr)
		os.Exit(1)
	}
	appLogger.Info("Shutdown complete.")
}
