package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"tickflow/internal/api"
	"tickflow/internal/config"
	"tickflow/internal/handlers"
	httphandler "tickflow/internal/handlers/http"
	"tickflow/internal/handlers/shell"
	"tickflow/internal/health"
	"tickflow/internal/history"
	"tickflow/internal/logging"
	"tickflow/internal/retry"
	"tickflow/internal/scheduler"
	"tickflow/internal/tasks"
	"tickflow/internal/worker"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "YAML or JSON config file")
		addr      = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath    = flag.String("db", "", "SQLite DB path for run history (overrides config)")
		workers   = flag.Int("workers", 0, "worker slots (overrides config; default NumCPU)")
		heartbeat = flag.Duration("heartbeat", 0, "heartbeat interval (overrides config)")
		debug     = flag.Bool("debug", false, "expose /debug/pprof")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *heartbeat > 0 {
		cfg.Heartbeat = heartbeat.String()
	}

	logCloser, err := logging.Setup(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DB)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := history.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	runs := history.NewSQLiteStore(db)

	registry := handlers.Registry{
		"shell": shell.Shell{},
		"http":  httphandler.HTTP{Client: &http.Client{}},
	}
	healthReg := health.NewRegistry()

	pool := worker.NewPool(cfg.PoolSize(), retry.NewExecutor(log.Logger), runs, log.Logger)
	coord := scheduler.New(pool, scheduler.Options{
		Heartbeat: cfg.HeartbeatInterval(),
		Health:    healthReg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordDone := make(chan error, 1)
	go func() { coordDone <- coord.Run(ctx) }()

	set := tasks.NewSet(coord, tasks.NewProvider(registry, log.Logger), log.Logger)
	set.Apply(cfg.Tasks)

	if *cfgPath != "" {
		w := config.NewWatcher(*cfgPath, cfg, log.Logger, func(next *config.Config) {
			set.Apply(next.Tasks)
		})
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("config watcher")
			}
		}()
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewServer(api.Deps{
			Coordinator: coord,
			Tasks:       set,
			Runs:        runs,
			Health:      healthReg,
			RateLimit:   cfg.RateLimit,
			Debug:       *debug,
			Log:         log.Logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)

	coord.Dispose()
	cancel()
	<-coordDone
	pool.Wait()
}
