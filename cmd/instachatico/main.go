package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/app"
	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/server"
)

// configPaths allows multiple -config flags; later files override earlier ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Subcommands get their own flag sets; everything else is the server.
	if len(os.Args) > 1 && os.Args[1] == "catalog" {
		runCatalog(os.Args[2:])
		return
	}

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("InstaChatico version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Shorthand port flag takes precedence.
	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	config, logger := loadConfig(finalPort, *serverHost)

	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}

// loadConfig runs the startup sequence: defaults -> config files -> env ->
// CLI flags, then initializes the logger from the resolved configuration.
func loadConfig(port int, host string) (*common.Config, arbor.ILogger) {
	if len(configFiles) == 0 {
		if _, err := os.Stat("instachatico.toml"); err == nil {
			configFiles = append(configFiles, "instachatico.toml")
		} else if _, err := os.Stat("deployments/local/instachatico.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/instachatico.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, port, host)

	logger := common.InitLogger(config)
	return config, logger
}
