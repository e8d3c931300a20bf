package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/openclapp/openclapp/internal/api"
	"github.com/openclapp/openclapp/internal/config"
	"github.com/openclapp/openclapp/internal/jobs"
	"github.com/openclapp/openclapp/internal/logging"
	"github.com/openclapp/openclapp/internal/server"
	"github.com/openclapp/openclapp/internal/service"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/internal/ticker"
	"github.com/openclapp/openclapp/internal/vault"
	"github.com/openclapp/openclapp/internal/verify"
	"github.com/openclapp/openclapp/internal/xapi"
	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "", "path to the YAML config (overrides "+config.ConfigEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("daemon stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Starting OpenClapp daemon...")

	st, err := store.Open(store.Options{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		DataDir: cfg.Store.DataDir,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.WithField("driver", cfg.Store.Driver).Info("store ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ticker.NewHub(ticker.DefaultBuffer, log)
	defer hub.Close()

	var pub service.Publisher = hub
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		bridge := ticker.NewRedisBridge(rdb, cfg.Redis.Channel, hub, log)
		pub = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.WithError(err).Error("redis relay stopped")
			}
		}()
	}

	svc := service.New(st, pub, log)
	svc.HistoryMaxPoints = cfg.History.MaxPoints

	if cfg.XAPI.BearerToken == "" {
		log.Warn("no X bearer token configured; verification checks will fail")
	}
	wf := verify.NewWorkflow(st, xapi.New(cfg.XAPI.BaseURL, cfg.XAPI.BearerToken, cfg.XAPI.Timeout, log), log)
	wf.TTL = cfg.Verify.ChallengeTTL

	sched := jobs.New(log)
	if cfg.Jobs.StatsSchedule != "" {
		if err := sched.AddStatsRefresh(cfg.Jobs.StatsSchedule, svc); err != nil {
			return err
		}
	}
	sched.Start()

	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(&api.Handler{Service: svc, Verify: wf, Log: log}, hub, cfg, log)

	if cfg.Server.TLS {
		cert, err := vault.LoadCertificate(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
		router.SetCertificate(cert)
		if cfg.Server.CertFile == "" {
			log.Info("TLS enabled with a generated self-signed certificate")
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- router.Listen(cfg.Server.Addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutdown signal received. Draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := router.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	sched.Stop(shutdownCtx)
	log.Info("Shutdown complete.")
	return nil
}

// migrate copies all data between two backends, e.g.
//
//	openclappd migrate -from memory -from-data-dir ./data -to sqlite -to-dsn openclapp.db
func migrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	from := fs.String("from", store.DriverMemory, "source driver")
	fromDSN := fs.String("from-dsn", "", "source DSN")
	fromDir := fs.String("from-data-dir", "", "source snapshot directory (memory driver)")
	to := fs.String("to", store.DriverSQLite, "destination driver")
	toDSN := fs.String("to-dsn", "", "destination DSN")
	toDir := fs.String("to-data-dir", "", "destination snapshot directory (memory driver)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == *to && *fromDSN == *toDSN && *fromDir == *toDir {
		return errors.New("source and destination are the same")
	}

	log, err := logging.New("info", "text")
	if err != nil {
		return err
	}

	src, err := store.Open(store.Options{Driver: *from, DSN: *fromDSN, DataDir: *fromDir, Log: log})
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := store.Open(store.Options{Driver: *to, DSN: *toDSN, DataDir: *toDir, Log: log})
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	snap, err := store.Migrate(context.Background(), src, dst)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"agents":     len(snap.Agents),
		"events":     len(snap.Events),
		"challenges": len(snap.Challenges),
	}).Info("migration complete")
	return nil
}
