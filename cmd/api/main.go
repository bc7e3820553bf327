package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smart-care/internal/audit"
	"smart-care/internal/auth"
	"smart-care/internal/calls"
	"smart-care/internal/config"
	"smart-care/internal/history"
	"smart-care/internal/httpapi"
	"smart-care/internal/metrics"
	"smart-care/internal/publisher"
	"smart-care/internal/quality"
	"smart-care/internal/reporting"
	"smart-care/internal/signaling"
	"smart-care/pkg/logger"
	"smart-care/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Signal channel: Redis when configured, otherwise a single-node in-process channel.
	var (
		ch      calls.Channel
		limiter calls.Limiter
	)
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		ch = signaling.NewRedisChannel(rdb, signaling.RedisChannelConfig{RecordTTL: cfg.Calls.RecordTTL}, log.With("component", "signaling"))
		limiter = signaling.NewRedisLimiter(rdb, signaling.DefaultPrefix, cfg.Calls.MaxConcurrentPerUser, cfg.Calls.RecordTTL)
	} else {
		log.Warn("REDIS_HOST not set; using in-process signal channel")
		ch = calls.NewMemoryChannel()
	}

	// Call history archive: Postgres when configured.
	var repo history.Repository = history.NewMemoryRepo()
	if cfg.HistoryEnabled() {
		db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := history.NewPostgresRepo(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			log.Error("history schema failed", "err", err)
			os.Exit(1)
		}
		repo = pg
	} else {
		log.Warn("DB_HOST not set; call history is kept in memory")
	}

	collector := metrics.NewCollector()
	auditSvc := audit.NewService(audit.NewLogRepo(log.With("component", "audit")))
	observers := []calls.Observer{history.NewRecorder(repo), auditSvc, collector}

	var notifier *publisher.Notifier
	if cfg.MQTTEnabled() {
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			log.Error("mqtt init failed", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		notifier = publisher.NewNotifier(pub, cfg.MQTT.TopicPrefix, log.With("component", "publisher"))
		observers = append(observers, notifier)
	}

	// Quality samples only flow for calls with an attached media transport.
	// The API server relays signalling and attaches none; processes that embed
	// calls.Service next to a pion peer connection call AttachTransport.
	callSvc := calls.NewService(ch, calls.Options{
		RingTimeout: cfg.Calls.RingTimeout,
		Sampler:     quality.NewSampler(cfg.Calls.QualityInterval, log.With("component", "quality")),
		OnQuality: func(s quality.Sample) {
			collector.ObserveQuality(s)
			if notifier != nil {
				notifier.PublishQuality(rootCtx, s)
			}
		},
		Limiter:   limiter,
		Observers: observers,
		Log:       log.With("component", "calls"),
	})
	defer callSvc.Close()

	h := httpapi.Handlers{
		Auth:    authManager,
		Calls:   callSvc,
		Channel: ch,
		History: repo,
		Reports: reporting.NewService(repo),
		Audit:   auditSvc,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	r.Use(collector.Middleware())
	r.Use(httpapi.WithClientIP())

	registerRoutes(r, h, collector, auth.RequireAccessToken(authManager), cfg.App.DevTokens)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the events stream is long-lived and sets its own deadlines.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"redis", cfg.RedisEnabled(), "history_db", cfg.HistoryEnabled(), "mqtt", cfg.MQTTEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
