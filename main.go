package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tokensentinel/config"
	"tokensentinel/internal/api"
	"tokensentinel/internal/cache"
	"tokensentinel/internal/domain"
	"tokensentinel/internal/events"
	"tokensentinel/internal/execution"
	"tokensentinel/internal/listener"
	"tokensentinel/internal/logging"
	"tokensentinel/internal/notification"
	"tokensentinel/internal/override"
	"tokensentinel/internal/position"
	"tokensentinel/internal/rpc"
	"tokensentinel/internal/storage/postgres"
	"tokensentinel/internal/strategy"
	"tokensentinel/internal/threat"
	"tokensentinel/internal/wallet"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load config", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "app",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	}))
	log := logging.WithComponent("main")

	eventBus := events.New()

	notifyManager := notification.NewManager()
	notifyManager.SetEnabled(cfg.NotificationConfig.Enabled)
	if cfg.NotificationConfig.Telegram.Enabled {
		notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
		}))
	}
	if cfg.NotificationConfig.Discord.Enabled {
		notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
		}))
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}

	dedup := cache.NewDedupLRU(cfg.ListenerConfig.DedupCapacity, time.Duration(cfg.ListenerConfig.DedupWindowSec)*time.Second, redisClient)
	blockhash := cache.NewBlockhashCache(time.Duration(cfg.RPCConfig.BlockhashTTLMs) * time.Millisecond)
	blacklist := cache.NewSessionBlacklist(time.Duration(cfg.PositionConfig.SessionBlacklistHours)*time.Hour, redisClient)

	var rpcEndpoints []rpc.EndpointConfig
	for _, e := range cfg.RPCConfig.Endpoints {
		rpcEndpoints = append(rpcEndpoints, rpc.EndpointConfig{URL: e.URL, MaxWeight: e.MaxWeight})
	}
	rpcClient := rpc.New(rpcEndpoints, time.Duration(cfg.RPCConfig.BlockhashTTLMs)*time.Millisecond)

	signerWallet, err := wallet.New(wallet.Config{
		Address:                cfg.VaultConfig.Address,
		Token:                  cfg.VaultConfig.Token,
		SecretPath:             cfg.VaultConfig.SecretPath,
		Enabled:                cfg.VaultConfig.Enabled,
		MaxSignaturesPerSecond: cfg.VaultConfig.MaxSignaturesPerSecond,
	})
	if err != nil {
		log.Fatal("failed to initialize signing wallet", "error", err)
	}

	bundler := execution.New(rpcClient, blockhash, signerWallet, liveSubmitter(rpcClient))

	var pgStore *postgres.Store
	if cfg.PostgresConfig.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgStore, err = postgres.Open(ctx, cfg.PostgresConfig.DSN)
		cancel()
		if err != nil {
			log.Fatal("failed to connect to postgres", "error", err)
		}
		if err := pgStore.Migrate(context.Background()); err != nil {
			log.Fatal("failed to migrate postgres schema", "error", err)
		}
		defer pgStore.Close()
	}

	heuristics := buildHeuristics(cfg, rpcClient, pgStore)
	threatEngine := threat.NewEngine(heuristics)

	strategies := buildStrategies(cfg)
	whaleCopy, socialSignal := extractExternalStrategies(strategies)
	var socialFeed threat.SocialSignalFeed
	if socialSignal != nil {
		socialFeed = noopSocialFeed{}
	}
	perStrategyBase := make(map[string]float64, len(cfg.StrategyConfig.CapitalAllocation))
	for tag, frac := range cfg.StrategyConfig.CapitalAllocation {
		perStrategyBase[tag] = frac * cfg.CapitalConfig.TotalCapitalBase
	}
	aggregator := strategy.NewAggregator(strategies, strategy.CapitalLimits{
		MaxPerMintBase:   cfg.CapitalConfig.MaxPerMintBase,
		MaxPortfolioBase: cfg.CapitalConfig.MaxPortfolioBase,
		PerStrategyBase:  perStrategyBase,
	})

	positionCfg := position.Config{
		StopLossPct:           cfg.PositionConfig.StopLossPct,
		TakeProfitPct:         cfg.PositionConfig.TakeProfitPct,
		TrailingActivatePct:   cfg.PositionConfig.TrailingActivatePct,
		TrailingGiveback:      cfg.PositionConfig.TrailingGivebackPct,
		MaxHoldDuration:       time.Duration(cfg.PositionConfig.MaxHoldMinutes) * time.Minute,
		MaxExitRetries:        cfg.PositionConfig.MaxExitRetries,
		SessionBlacklistTTL:   time.Duration(cfg.PositionConfig.SessionBlacklistHours) * time.Hour,
		OpenConfirmDeadline:   time.Duration(cfg.PositionConfig.OpenConfirmDeadlineSec) * time.Second,
	}
	positionManager := position.NewManager(positionCfg, cfg.CapitalConfig.TotalCapitalBase, blacklist, bundler, rpcEntryConfirmer{client: rpcClient})

	adapters := buildAdapters(cfg, rpcClient)
	fanIn := listener.New(adapters, dedup)

	overrideConsole := override.New(buildOverrideHandler(positionManager, aggregator))

	engine := newEngine(engineDeps{
		cfg:          cfg,
		bus:          eventBus,
		fanIn:        fanIn,
		threat:       threatEngine,
		aggregator:   aggregator,
		positions:    positionManager,
		bundler:      bundler,
		console:      overrideConsole,
		notify:       notifyManager,
		store:        pgStore,
		rpcClient:    rpcClient,
		whaleCopy:    whaleCopy,
		socialSignal: socialSignal,
		socialFeed:   socialFeed,
	})

	statusProvider := engineStatusAdapter{engine: engine}
	apiServer := api.NewServer(statusProvider, overrideConsole, eventBus, strings.Split(cfg.ServerConfig.AllowedOrigins, ","))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	go overrideConsole.Run(runCtx)
	go engine.Run(runCtx)
	go rpcClient.StartHealthLoop(runCtx, time.Duration(cfg.RPCConfig.HealthCheckIntervalSec)*time.Second, healthProbe)

	go func() {
		log.Info("control API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control API server failed", "error", err)
		}
	}()

	eventBus.Publish(events.Event{Type: events.TypeAlert, Timestamp: time.Now(), Data: domain.AlertEvent{
		Severity: domain.AlertWarning,
		Reason:   "engine started",
		RaisedAt: time.Now(),
	}})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("error shutting down control API", "error", err)
	}
	cancelRun()

	log.Info("shutdown complete")
}
