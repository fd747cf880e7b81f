// statusbridge mirrors Zabbix service health onto a Cachet status page.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/statusbridge/internal/api"
	"github.com/d9705996/statusbridge/internal/api/handler"
	"github.com/d9705996/statusbridge/internal/cachet"
	"github.com/d9705996/statusbridge/internal/config"
	"github.com/d9705996/statusbridge/internal/db"
	"github.com/d9705996/statusbridge/internal/health"
	"github.com/d9705996/statusbridge/internal/incident"
	"github.com/d9705996/statusbridge/internal/observability"
	"github.com/d9705996/statusbridge/internal/render"
	"github.com/d9705996/statusbridge/internal/store"
	"github.com/d9705996/statusbridge/internal/topology"
	"github.com/d9705996/statusbridge/internal/version"
	"github.com/d9705996/statusbridge/internal/watcher"
	"github.com/d9705996/statusbridge/internal/worker"
	"github.com/d9705996/statusbridge/internal/zabbix"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Stdout, os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "statusbridge",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting statusbridge", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Journal -------------------------------------------------------------
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	journal := store.NewJournal(gormDB)
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker, journal, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- Remotes -------------------------------------------------------------
	zbx := zabbix.New(zabbix.Config{
		URL:                cfg.Zabbix.URL,
		User:               cfg.Zabbix.User,
		Password:           cfg.Zabbix.Password,
		Token:              cfg.Zabbix.Token,
		InsecureSkipVerify: !cfg.Zabbix.VerifyTLS,
	}, log)
	page := cachet.New(cachet.Config{
		URL:                cfg.Cachet.URL,
		Token:              cfg.Cachet.Token,
		InsecureSkipVerify: !cfg.Cachet.VerifyTLS,
	}, log)
	logRemoteVersions(ctx, log, zbx, page)

	// --- Reconciliation ------------------------------------------------------
	tmpl, err := render.New(cfg.Templates, cfg.Bridge.Location)
	if err != nil {
		return err
	}
	syncer := topology.New(zbx, page, cfg.Bridge.RootService, log, topology.WithRecorder(wq))
	engine := incident.New(zbx, page, tmpl, incident.WithLogger(log), incident.WithRecorder(wq))
	sup := watcher.New(watcher.Config{
		SyncInterval: cfg.Bridge.SyncInterval,
		TickInterval: cfg.Bridge.TickInterval,
	}, syncer, zbx, engine, log, watcher.WithSnapshotSink(journal))

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Routes{
		Health: health.New(
			health.Check{Name: "database", Pinger: db.NewPinger(gormDB)},
			health.Check{Name: "zabbix", Pinger: health.PingerFunc(func(ctx context.Context) error {
				_, err := zbx.Version(ctx)
				return err
			})},
		),
		Mapping:   handler.NewMappingHandler(sup, journal),
		Actions:   handler.NewActionsHandler(journal),
		Metrics:   promhttp.Handler(),
		JWTSecret: cfg.JWT.Secret,
	})
	if cfg.JWT.Secret == "" {
		log.Info("admin api disabled; set API_JWT_SECRET to enable it")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start ---------------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-errCh:
		stop()
		<-supDone
	case runErr = <-supDone:
		if runErr != nil {
			runErr = fmt.Errorf("watcher: %w", runErr)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		runErr = <-supDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	log.Info("statusbridge stopped cleanly")
	return nil
}

// logRemoteVersions reports both API versions. Failures are not fatal: the
// watcher skips ticks while Zabbix is unreachable.
func logRemoteVersions(ctx context.Context, log *slog.Logger, zbx *zabbix.Client, page *cachet.Client) {
	if v, err := zbx.Version(ctx); err != nil {
		log.Warn("zabbix unreachable at startup", "err", err)
	} else {
		log.Info("zabbix api", "version", v)
	}
	if v, err := page.Version(ctx); err != nil {
		log.Warn("cachet unreachable at startup", "err", err)
	} else {
		log.Info("cachet api", "version", v)
	}
}
