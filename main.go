// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-process-bridge/pkg/bridge"
	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
	"github.com/go-core-stack/mcp-process-bridge/pkg/env"
	"github.com/go-core-stack/mcp-process-bridge/pkg/preflight"
	"github.com/go-core-stack/mcp-process-bridge/pkg/server"
)

// Options are the command-line overrides; they take precedence over the
// configuration file and the environment.
type Options struct {
	ConfigFile string `short:"c" long:"config" description:"optional YAML configuration file (defaults to $MCP_CONFIG_FILE)"`
	Port       int    `short:"p" long:"port" description:"listening port (overrides $PORT)"`
	LogLevel   string `short:"l" long:"log-level" description:"bridge log level (overrides $MCP_LOG_LEVEL)"`
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Level(level)

	for _, finding := range preflight.New().Run(context.Background(), cfg) {
		log.Warn().
			Str("check", finding.Check).
			Msg(finding.Message)
	}

	handler := server.New(cfg, bridge.New(cfg, env.NewComposer(cfg)))

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("listen_addr", cfg.ListenAddr()).
			Str("helper", cfg.Helper.Command).
			Strs("helper_args", cfg.Helper.Args).
			Str("api_name", cfg.API.Name).
			Stringer("credential", cfg.Credential.Value).
			Msg("starting MCP process bridge")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("bridge server exited unexpectedly")
		}
	}()

	waitForShutdown(context.Background(), srv, cfg.Server.GracefulShutdown)
}

// loadConfig parses the command line and layers its overrides on top of
// the file and environment configuration.
func loadConfig(args []string) (config.Config, error) {
	opts := &Options{}
	if _, err := flags.ParseArgs(opts, args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(opts.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func waitForShutdown(ctx context.Context, srv *http.Server, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	log.Info().Msg("shutting down MCP process bridge")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Shutdown does not interrupt in-flight streams; Close below cancels their
	// request contexts, which in turn cancels the helpers.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("forced close failed")
		}
	}

	log.Info().Msg("MCP process bridge stopped")
}
