// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/speakd/internal/api/httpapi"
	"github.com/osa030/speakd/internal/app/filter"
	"github.com/osa030/speakd/internal/app/speech"
	"github.com/osa030/speakd/internal/app/voice"
	"github.com/osa030/speakd/internal/infra/audio"
	"github.com/osa030/speakd/internal/infra/cache"
	"github.com/osa030/speakd/internal/infra/config"
	"github.com/osa030/speakd/internal/infra/elevenlabs"
	"github.com/osa030/speakd/internal/infra/logger"
)

var (
	app        = kingpin.New("speakd", "Local text-to-speech playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Bootstrap logger so config loading is visible
	if err := logger.Init(loggerConfig("info", "stdout")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(loggerConfig(cfg.Logging.Level, cfg.Logging.Output)); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// loggerConfig applies command-line overrides to the configured logger settings.
func loggerConfig(level, output string) logger.Config {
	cfg := logger.Config{Level: level, Output: output}
	if *verbose {
		cfg.Level = "debug"
	}
	if *logfile != "" {
		cfg.Output = *logfile
	}
	return cfg
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := validateFilterConfig(cfg); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := audio.New(audio.Config{
		Player:          cfg.Playback.Player,
		FFmpegPath:      cfg.Playback.FFmpegPath,
		FFprobePath:     cfg.Playback.FFprobePath,
		ProbeTimeout:    cfg.ProbeTimeout(),
		EnvelopeTimeout: cfg.EnvelopeTimeout(),
		TempPrefix:      cfg.Playback.TempPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to create audio backend: %w", err)
	}
	zlog.Info().Msgf("Audio backend: %s", backend.Name())

	store, err := cache.New(cache.Config{
		Dir:              cfg.Cache.Dir,
		CompressionLevel: cfg.Cache.CompressionLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer store.Close()
	go store.Run(ctx, cfg.CacheSweepInterval(), cfg.CacheMaxAge())

	client := elevenlabs.New(elevenlabs.Config{
		APIKey:            cfg.ElevenLabs.APIKey,
		BaseURL:           cfg.ElevenLabs.BaseURL,
		Model:             cfg.ElevenLabs.Model,
		OutputFormat:      cfg.ElevenLabs.OutputFormat,
		RequestsPerMinute: cfg.ElevenLabs.RequestsPerMinute,
		Timeout:           cfg.SynthesisTimeout(),
		TempPrefix:        cfg.Playback.TempPrefix,
	})
	if !client.Configured() {
		zlog.Warn().Msg("ELEVENLABS_API_KEY not set, synthesis requests will fail")
	}

	roster, err := voice.NewRosterStore(cfg.Voices.RosterPath)
	if err != nil {
		return fmt.Errorf("failed to load voice roster: %w", err)
	}
	if !cfg.Voices.DisableWatch {
		go func() {
			if err := roster.Watch(ctx); err != nil {
				zlog.Warn().Msgf("Voice roster watch stopped: %v", err)
			}
		}()
	}
	resolver := voice.NewResolver(cfg.ElevenLabs.VoiceID, roster,
		voice.NewRosterProvider(roster),
		voice.NewAPIProvider(client),
	)

	speechMgr, err := speech.NewManager(cfg, client, backend, store, resolver)
	if err != nil {
		return fmt.Errorf("failed to create speech manager: %w", err)
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		speechMgr.Run(ctx)
	}()

	api := httpapi.NewServer(speechMgr, cfg)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(api.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", listener.Addr())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	// Stop playback first so event streams end before the server drains
	cancel()
	<-managerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.RegisteredNames() {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registry := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[filterName]
		if !exists {
			return fmt.Errorf("unknown filter: %s", filterName)
		}

		f := factory()
		if err := f.ValidateConfig(filterCfg.Settings); err != nil {
			return fmt.Errorf("filter %s: %w", filterName, err)
		}
	}

	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
