package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/export"
	gwhttp "github.com/pribylovaa/apparel-admin/internal/http"
	"github.com/pribylovaa/apparel-admin/internal/http/handlers"
	"github.com/pribylovaa/apparel-admin/internal/http/middleware"
	"github.com/pribylovaa/apparel-admin/internal/imaging"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/ratelimit"
	"github.com/pribylovaa/apparel-admin/internal/scan"
	"github.com/pribylovaa/apparel-admin/internal/scan/sessionstore"
	"github.com/pribylovaa/apparel-admin/internal/search"
	"github.com/pribylovaa/apparel-admin/internal/service"
	"github.com/pribylovaa/apparel-admin/internal/storage/minio"
	"github.com/pribylovaa/apparel-admin/internal/storage/mongo"
	"github.com/pribylovaa/apparel-admin/pkg/redact"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// limiterIdleTTL — через сколько простоя забывается лимитер клиента.
const limiterIdleTTL = 10 * time.Minute

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting apparel-admin",
		"env", cfg.Env,
		"db", redact.URL(cfg.DB.URL),
		"s3", redact.URL(cfg.S3.Endpoint),
		"session_driver", cfg.Scan.SessionDriver,
	)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	docs, err := mongo.New(rootCtx, cfg)
	if err != nil {
		log.Error("mongo_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := docs.Close(ctx); cerr != nil {
			log.Warn("mongo_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	objects, err := minio.New(rootCtx, cfg)
	if err != nil {
		log.Error("minio_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	sessions, err := sessionstore.Open(cfg.Scan)
	if err != nil {
		log.Error("session_store_init_failed", slog.String("driver", cfg.Scan.SessionDriver), slog.String("err", err.Error()))
		os.Exit(1)
	}

	defer func() {
		if cerr := sessions.Close(); cerr != nil {
			log.Warn("session_store_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	deps := service.Deps{
		Docs:      docs,
		Objects:   objects,
		Images:    imaging.New(cfg.Images),
		Exporter:  export.New(objects, cfg.Export),
		Validator: service.NewValidator(),
		Limits:    cfg.Limits,
	}

	if cfg.Search.Enabled {
		idx, err := search.New(search.Options{DataPath: cfg.Search.DataPath, Logger: log})
		if err != nil {
			log.Error("search_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}

		defer func() {
			if cerr := idx.Close(); cerr != nil {
				log.Warn("search_close_failed", slog.String("err", cerr.Error()))
			}
		}()

		deps.Index = idx
	}

	items := service.NewCatalog[models.Item](service.ItemKind, deps)
	fabrics := service.NewCatalog[models.Fabric](service.FabricKind, deps)
	patterns := service.NewCatalog[models.Pattern](service.PatternKind, deps)
	pickups := service.NewPickups(deps, items, cfg.HTTP.PublicOrigin)

	svcs := handlers.Services{
		Items:       items,
		Fabrics:     fabrics,
		Patterns:    patterns,
		Exhibitions: service.NewExhibitions(deps, items),
		Pickups:     pickups,
		Loans:       service.NewLoans(deps, items),
		Scan:        scan.New(sessions, pickups, cfg.Scan),
	}

	if deps.Index != nil {
		for _, c := range []interface {
			Reindex(context.Context) (int, error)
			Kind() service.Kind
		}{items, fabrics, patterns} {
			n, err := c.Reindex(rootCtx)
			if err != nil {
				log.Warn("search_reindex_failed", slog.String("kind", c.Kind().Collection), slog.String("err", err.Error()))
				continue
			}
			log.Info("search_reindexed", slog.String("kind", c.Kind().Collection), slog.Int("count", n))
		}
	}

	limiter := ratelimit.New(cfg.RateLimit.ScanRPS, cfg.RateLimit.ScanBurst, limiterIdleTTL).
		WithMaxKeys(cfg.RateLimit.MaxKeys)
	defer limiter.Stop()

	ipLimiter := ratelimit.New(cfg.RateLimit.ScanIPRPS, cfg.RateLimit.ScanIPBurst, limiterIdleTTL).
		WithMaxKeys(cfg.RateLimit.MaxKeys)
	defer ipLimiter.Stop()

	var ready int32 // 0 — not ready; 1 — ready

	opts := gwhttp.Options{
		Logger:         log,
		Timeout:        cfg.Timeouts.Service,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		IdentitySecret: cfg.Identity.Secret,
		IdentityIssuer: cfg.Identity.Issuer,
		ScanLimiter:    limiter,
		ScanIPLimiter:  ipLimiter,
		Metrics:        middleware.NewMetrics(nil),
		Health: func(ctx context.Context) error {
			if atomic.LoadInt32(&ready) != 1 {
				return errors.New("not ready")
			}
			return docs.Ping(ctx)
		},
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
	}

	// Тело запроса с изображениями: несколько файлов плюс JSON-часть.
	maxUpload := cfg.Images.MaxSizeBytes * 4
	apiHandler := gwhttp.NewRouter(handlers.New(svcs, maxUpload), opts)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
		// Контекст запросов наследует rootCtx: SSE-потоки завершаются по сигналу.
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	log.Info("service_stopped")
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
