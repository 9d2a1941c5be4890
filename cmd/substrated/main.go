package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/btcsuite/btclog/v2"
	substraterpc "github.com/caflabs/substrate/internal/api/grpc"
	"github.com/caflabs/substrate/internal/actor"
	"github.com/caflabs/substrate/internal/build"
	"github.com/caflabs/substrate/internal/db"
)

func main() {
	var (
		dbPath         = flag.String("db", "~/.substrate/substrate.db", "Path to SQLite database")
		grpcAddr       = flag.String("grpc", "localhost:10009", "gRPC transport address (empty to disable)")
		logDir         = flag.String("log-dir", "~/.substrate/logs", "Directory for log files (empty to disable file logging)")
		maxLogFiles    = flag.Int("max-log-files", build.DefaultMaxLogFiles, "Maximum number of rotated log files to keep")
		maxLogFileSize = flag.Int("max-log-file-size", build.DefaultMaxLogFileSize, "Maximum log file size in MB before rotation")
		workers        = flag.Int("scheduler-workers", 0, "EventActor scheduler worker count (0 selects GOMAXPROCS)")
	)
	flag.Parse()

	expandHome := func(path string) string {
		expanded := os.ExpandEnv(path)
		if expanded == path && len(path) > 0 && path[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf("Failed to get home directory: %v", err)
			}
			expanded = home + path[1:]
		}
		return expanded
	}

	dbPathExpanded := expandHome(*dbPath)
	logDirExpanded := expandHome(*logDir)

	// Initialize the rotating log file writer if a log directory is
	// configured.
	var logRotator *build.RotatingLogWriter
	if logDirExpanded != "" {
		logRotator = build.NewRotatingLogWriter()
		err := logRotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDirExpanded,
			MaxLogFiles:    *maxLogFiles,
			MaxLogFileSize: *maxLogFileSize,
		})
		if err != nil {
			log.Printf(
				"Failed to init log rotator: %v "+
					"(continuing without file logging)", err,
			)
			logRotator = nil
		} else {
			defer logRotator.Close()

			multiWriter := io.MultiWriter(os.Stderr, logRotator)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags)
		}
	}

	log.Printf(
		"substrated version %s commit=%s go=%s",
		build.Version(), commitInfo(), build.GoVersion,
	)

	// Open the database with migrations. The actor core persists dead
	// letters and group membership through it (see internal/db's
	// dead_letters/group_members tables); nothing else in this daemon
	// touches the database directly.
	sqliteStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: dbPathExpanded,
	}, slog.Default())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqliteStore.Close()

	// Create btclog handlers for structured subsystem logging. When file
	// logging is enabled, logs go to both the console and the rotating
	// log file.
	var btclogHandlers []btclog.Handler
	consoleHandler := btclog.NewDefaultHandler(os.Stderr)
	btclogHandlers = append(btclogHandlers, consoleHandler)

	if logRotator != nil {
		fileHandler := btclog.NewDefaultHandler(logRotator)
		btclogHandlers = append(btclogHandlers, fileHandler)

		log.Printf(
			"Log file rotation enabled: dir=%s, max_files=%d, "+
				"max_size=%dMB",
			logDirExpanded, *maxLogFiles, *maxLogFileSize,
		)
	}

	combinedHandler := build.NewHandlerSet(btclogHandlers...)

	// Wire up the actor system's btclog logger so lifecycle events
	// (registration, shutdown, stop, scheduling) are visible in daemon
	// logs.
	actorLogger := btclog.NewSLogger(
		combinedHandler.SubSystem(actor.Subsystem),
	)
	actor.UseLogger(actorLogger)

	cfg := actor.DefaultConfig()
	if *workers > 0 {
		cfg.SchedulerWorkers = *workers
	}
	actorSystem := actor.NewActorSystemWithConfig(cfg)
	actorSystem.SetDeadLetterRecorder(sqliteStore.Store)
	actorSystem.Groups().SetPersister(sqliteStore.Store)

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), cfg.ShutdownGrace,
		)
		defer shutdownCancel()

		if err := actorSystem.Shutdown(shutdownCtx); err != nil {
			log.Printf(
				"Actor system shutdown incomplete: %v "+
					"(some goroutines may have leaked)", err,
			)
		}
	}()

	// Set up signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf(
			"Received %v, initiating graceful shutdown "+
				"(send again to force exit)...", sig,
		)
		cancel()

		// Wait for a second signal to force-exit. The goroutine stays
		// alive so subsequent Ctrl+C signals are consumed rather than
		// silently dropped by the buffered channel.
		sig = <-sigCh
		log.Printf("Received %v again, forcing immediate exit", sig)
		os.Exit(1)
	}()

	// Start the remote messaging transport if enabled.
	var grpcServer *substraterpc.Server
	if *grpcAddr != "" {
		grpcCfg := substraterpc.DefaultServerConfig()
		grpcCfg.ListenAddr = *grpcAddr

		grpcServer = substraterpc.NewServer(grpcCfg, actorSystem)
		if err := grpcServer.Start(); err != nil {
			log.Fatalf("Failed to start gRPC transport: %v", err)
		}
		defer grpcServer.Stop()
		log.Printf("gRPC transport listening on %s", *grpcAddr)
	}

	log.Println("substrated running, waiting for signal")
	<-ctx.Done()
}

// commitInfo returns the best available commit identifier. It prefers the
// Commit string set via ldflags (which includes tag info), falling back to
// the ldflags-set CommitHash and then to "dev" when neither is set.
func commitInfo() string {
	if build.Commit != "" {
		return build.Commit
	}
	if build.CommitHash != "" {
		return build.CommitHash
	}

	return "dev"
}
