package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fieldctf/engine/internal/api"
	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/dispatcher"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/internal/influx"
	"github.com/fieldctf/engine/internal/logging"
	"github.com/fieldctf/engine/internal/monitor"
	intOtel "github.com/fieldctf/engine/internal/otel"
	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/internal/stream"
	"github.com/fieldctf/engine/internal/util"
	"github.com/fieldctf/engine/pkg/core"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "ctfd"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// LogFilePath is the text log of this run
	LogFilePath string

	// PlayerCache fronts player reads of the SQL backends
	PlayerCache *cache.PlayerCache = cache.NewPlayerCache()

	SessionStartTime time.Time = time.Now()
)

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	playerID := flag.String("player", "", "player ID (random when empty)")
	username := flag.String("username", "", "display name shown to other players")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *playerID, *username, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging loads config and builds the slog chain: a text log file,
// the otelslog bridge and an optional GELF handler. The returned func
// releases the files and flushes OTel.
func setupLogging(configDir string) (func(), error) {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "info"})
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		config.LoadDefaults()
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}
	logFile, err := os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	closers := []io.Closer{logFile}

	OTelProvider, err = intOtel.New(config.GetOTelConfig(), logFile)
	if err != nil {
		Logger.Error("Failed to initialize OTel provider", "error", err)
		OTelProvider, _ = intOtel.New(config.OTelConfig{}, nil)
	}
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider.Enabled() {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	var extra []slog.Handler
	if gc := config.GetGraylogConfig(); gc.Enabled {
		h, c, err := logging.NewGelfHandler(gc.Address, viper.GetString("logLevel"))
		if err != nil {
			Logger.Warn("Graylog handler disabled", "error", err)
		} else {
			extra = append(extra, h)
			closers = append(closers, c)
		}
	}

	SlogManager.Setup(logging.Options{
		File:     logFile,
		Level:    viper.GetString("logLevel"),
		Provider: otelLogProvider,
		Extra:    extra,
	})
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", CurrentVersion, "build", BuildDate)

	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Shutdown(flushCtx); err != nil {
			Logger.Warn("Failed to flush OTel data", "error", err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}, nil
}

func run(ctx context.Context, configDir, playerID, username string, in io.Reader, out io.Writer) error {
	cleanup, err := setupLogging(configDir)
	if err != nil {
		return err
	}
	defer cleanup()

	if playerID == "" {
		playerID = uuid.NewString()
	}
	if username == "" {
		username = playerID
	}

	storageCfg := config.GetStorageConfig()
	repo, err := createStorageBackend(storageCfg, PlayerCache)
	if err != nil {
		return err
	}
	if err := repo.Init(); err != nil {
		return fmt.Errorf("init %s storage: %w", storageCfg.Type, err)
	}
	defer repo.Close()

	tracker := proximity.NewTracker()
	defer tracker.Close()

	events := newEventLog(eventLogLimit)
	recorders := []engine.EventRecorder{events}

	if rec, ok := repo.(engine.EventRecorder); ok {
		recorders = append(recorders, rec)
	}

	influxManager := influx.NewManager(config.GetInfluxConfig(), logging.NewZerolog(nil, viper.GetString("logLevel")))
	switch err := influxManager.Connect(ctx); {
	case err == nil:
		recorders = append(recorders, influxManager)
		defer influxManager.Close()
	case !errors.Is(err, influx.ErrDisabled):
		Logger.Warn("Game event telemetry disabled", "error", err)
	}

	publisher := stream.New(config.GetStreamConfig(), Logger)
	streaming := false
	switch err := publisher.Connect(ctx, playerID, username); {
	case err == nil:
		streaming = true
		recorders = append(recorders, publisher)
		defer publisher.Close()
	case !errors.Is(err, stream.ErrDisabled):
		Logger.Warn("View streaming disabled", "error", err)
	}

	eng, err := engine.New(playerID, engine.Dependencies{
		Repository: repo,
		Proximity:  tracker,
		Config:     config.GetEngineConfig(),
		Logger:     Logger,
		Recorders:  recorders,
	})
	if err != nil {
		return err
	}
	if _, err := eng.Register(ctx, core.PlayerDetails{Username: username}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	defer func() {
		cancel()
		<-runDone
	}()
	go func() {
		defer close(runDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			Logger.Error("Session stopped", "error", err)
		}
	}()
	if streaming {
		go func() { _ = publisher.Follow(ctx, eng.Subscribe(ctx)) }()
	}

	apiCfg := config.GetAPIConfig()
	rep := newReporter(apiCfg, events, Logger)
	if apiCfg.Upload {
		rep.client = api.New(apiCfg.ServerURL, apiCfg.APIKey)
		if err := rep.client.Healthcheck(ctx); err != nil {
			Logger.Warn("Results server not reachable", "url", apiCfg.ServerURL, "error", err)
		}
	}
	go func() { _ = rep.Follow(ctx, eng.Subscribe(ctx)) }()

	if mc := config.GetMonitorConfig(); mc.Enabled {
		mon := monitor.NewService(monitor.Dependencies{
			LogManager:  SlogManager,
			Session:     eng,
			PlayerCache: PlayerCache,
			StatusDir:   filepath.Dir(LogFilePath),
			Interval:    mc.Interval,
		})
		if err := mon.Start(); err != nil {
			Logger.Warn("Status monitor not started", "error", err)
		}
		defer mon.Stop()
	}

	d, err := dispatcher.New(Logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer d.Close()
	registerCommands(d, &console{eng: eng, tracker: tracker, qrDir: apiCfg.ReportsDir})

	Logger.Info("Session ready", "player", playerID, "storage", storageCfg.Type)
	fmt.Fprintf(out, "player %s (%s) ready, :HELP: lists commands\n", playerID, username)
	return serve(ctx, d, in, out)
}

// serve reads one command per line until EOF, :EXIT: or ctx ends.
func serve(ctx context.Context, d *dispatcher.Dispatcher, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			command, args := util.ParseCommandLine(line)
			switch command {
			case "":
				continue
			case cmdExit:
				return nil
			}
			result, err := d.Dispatch(ctx, dispatcher.Event{Command: command, Args: args})
			if err != nil {
				fmt.Fprintf(out, "%s error: %v\n", command, err)
				continue
			}
			if result != nil {
				fmt.Fprintf(out, "%s %v\n", command, result)
			}
		}
	}
}
