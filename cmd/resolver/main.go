package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-scope-resolver/internal/api"
	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/infra"
	"github.com/xela07ax/spaceai-scope-resolver/internal/infra/auth"
	"github.com/xela07ax/spaceai-scope-resolver/internal/journal"
	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"github.com/xela07ax/spaceai-scope-resolver/internal/repository/manifest"
	"github.com/xela07ax/spaceai-scope-resolver/internal/repository/postgres"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
)

// store — то, что сервису нужно от хранилища: scope store + membership.
type store interface {
	resolver.ScopeStore
	resolver.MembershipProvider
}

func main() {
	configFile := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// .env необязателен: в K8s переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	table := credentials.NewTable()
	if err := cfg.Validate(table); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Scope Store: Postgres или YAML-манифест для локального запуска
	health := map[string]api.Pinger{}
	var (
		scopes   store
		recorder journal.Recorder
	)
	switch {
	case cfg.Database.URL != "":
		pool, err := postgres.Connect(appCtx, postgres.PoolConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		repo := postgres.NewScopeRepo(pool)
		scopes = repo
		health["postgres"] = repo

		if cfg.Journal.Enabled {
			j := journal.New(postgres.NewJournalRepo(pool), cfg.Journal.Journal(), m, logger)
			j.Start()
			defer j.Stop()
			recorder = j
		}

	case cfg.Manifest.Path != "":
		ms, err := manifest.Open(cfg.Manifest.Path)
		if err != nil {
			logger.Fatal("failed to load manifest", zap.Error(err))
		}
		if cfg.Manifest.Watch {
			if err := ms.Watch(appCtx, logger); err != nil {
				logger.Fatal("failed to watch manifest", zap.Error(err))
			}
		}
		scopes = ms
		logger.Warn("serving scopes from manifest file", zap.String("path", ms.Path()))

	default:
		logger.Fatal("either database.url or manifest.path is required")
	}

	// 3. Кэш членства + инвалидация через Redis
	members := resolver.NewCachedMembership(scopes, cfg.Resolver.MembershipTTL, m, logger)
	if cfg.Redis.Addr != "" && cfg.Resolver.MembershipTTL > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		health["redis"] = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		go resolver.ListenInvalidations(appCtx, rdb, infra.RedisChanMembershipInvalidate, members, logger)
	}

	// 4. Credentials
	secrets := credentials.EnvSecrets{}
	creds := credentials.NewResolver(table, secrets,
		credentials.DefaultSources(&http.Client{Timeout: cfg.Credentials.AttemptTimeout}),
		cfg.Credentials.Reliability(), m, logger)

	// 5. Настройки с горячей перезагрузкой; смена облака сбрасывает кэш токенов
	holder, err := infra.NewSettingsHolder(cfg.Settings(), table, logger)
	if err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}
	holder.OnCloudChange(creds.Cache().Purge)
	if _, err := holder.WatchConfig(*configFile); err != nil {
		logger.Fatal("failed to watch config", zap.Error(err))
	}

	// 6. Core
	engine := resolver.NewEngine(resolver.Deps{
		Store:       scopes,
		Members:     members,
		Credentials: creds,
		Secrets:     secrets,
		Journal:     recorder,
		Metrics:     m,
		FanOutLimit: cfg.Resolver.FanOutLimit,
	}, logger)

	// 7. HTTP Server
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}

	router := api.NewRouter(api.ServerDeps{
		Handler: api.NewHandler(engine, holder, logger),
		Auth:    auth.NewMiddleware(auth.NewValidator(pubKey, cfg.Auth.Leeway), logger),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Health:  health,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("scope resolver started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("scope resolver stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	// Фоновые слушатели останавливаются до дренажа журнала (defer выше)
	cancel()
	logger.Info("scope resolver exited properly")
}

func shutdownTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return 5 * time.Second
}
