package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guileen/pglitepool/logger"
	"github.com/guileen/pglitepool/monitor"
	"github.com/guileen/pglitepool/network"
	"github.com/guileen/pglitepool/network/pgwire"
	"github.com/guileen/pglitepool/protocol/api"
)

func main() {
	var (
		addrs      = flag.String("addr", "127.0.0.1:5432", "Comma-separated server addresses, one pool each")
		configPath = flag.String("config", "", "YAML pool options file")
		listen     = flag.String("listen", ":8080", "Admin HTTP listen address")
		journalDir = flag.String("journal", "", "Directory for the durable pool event journal")
		user       = flag.String("user", "postgres", "Startup user")
		password   = flag.String("password", os.Getenv("PGPASSWORD"), "Password (defaults to $PGPASSWORD)")
		database   = flag.String("database", "", "Startup database")
		appName    = flag.String("application-name", "poolctl", "application_name startup parameter")
	)
	flag.Parse()

	startTime := time.Now()
	opts, err := network.LoadPoolOptions(*configPath)
	if err != nil {
		log.Fatalf("failed to load pool options: %v", err)
	}

	metrics := monitor.NewPrometheusSink()
	sinks := network.MultiSink{metrics, monitor.NewLogSink(nil, slog.LevelDebug)}

	var journal *monitor.Journal
	if *journalDir != "" {
		journal, err = monitor.OpenJournal(*journalDir)
		if err != nil {
			log.Fatalf("failed to open event journal: %v", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		logger.Info("Event journal opened", "dir", *journalDir)
	}

	opts.EventSink = sinks
	opts.ErrorHandler = func(err error) {
		logger.Warn("Background connection establishment failed", logger.ErrorField(err))
	}

	establisher := pgwire.NewEstablisher(*user, *password, *database)
	establisher.Params = map[string]string{"application_name": *appName}

	pools := network.NewPoolSet()
	for _, addr := range strings.Split(*addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		p, err := network.NewPool(addr, establisher, opts)
		if err != nil {
			log.Fatalf("failed to create pool for %s: %v", addr, err)
		}
		if err := pools.Add(p); err != nil {
			log.Fatalf("failed to register pool: %v", err)
		}
		p.Ready()
		logger.Info("Pool ready", logger.Address(addr),
			"max_pool_size", opts.MaxPoolSize, "min_pool_size", opts.MinPoolSize,
			"load_balanced", opts.LoadBalanced)
	}

	var replayer api.EventReplayer
	if journal != nil {
		replayer = journal
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	r.Handle("/metrics", metrics.Handler())
	api.NewPoolHandler(pools, replayer).RegisterRoutes(r)

	srv := &http.Server{Addr: *listen, Handler: r}

	go func() {
		logger.Info("Admin API listening", "listen", *listen, "startup", time.Since(startTime).String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down poolctl")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown", logger.ErrorField(err))
	}
	if err := pools.CloseAll(ctx, network.CloseOptions{}); err != nil {
		logger.Warn("Closing pools", logger.ErrorField(err))
	}
}
