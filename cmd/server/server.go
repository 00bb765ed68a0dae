package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/config"
	"github.com/thereayou/teleconsult/internal/database"
	"github.com/thereayou/teleconsult/internal/handlers"
	"github.com/thereayou/teleconsult/internal/logger"
	"github.com/thereayou/teleconsult/internal/metrics"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/internal/services"
	ws "github.com/thereayou/teleconsult/internal/websocket"
	"github.com/thereayou/teleconsult/pkg/auth"
	"github.com/thereayou/teleconsult/pkg/tracer"
)

type Server struct {
	Config     *config.Config
	Log        *zap.Logger
	Router     *gin.Engine
	DB         *database.Database
	Redis      *redis.Client
	JWTManager *auth.JWTManager
	Hub        *ws.Hub
	Notifier   *ws.Notifier
	Limiter    *middleware.UserRateLimiter
	Registry   *prometheus.Registry
	Tracer     *sdktrace.TracerProvider
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("service", cfg.App.Name), zap.String("env", cfg.App.Environment))

	tp, err := tracer.Init(ctx, tracer.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector("teleconsult", reg)

	jwtMgr := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL)
	blacklist := middleware.NewRedisBlacklist(rdb)

	hub := ws.NewHub(m, log)
	var notifier services.Notifier
	var nudges *ws.Notifier
	if cfg.Relay.PushEnabled {
		nudges = ws.NewNotifier(hub, rdb, cfg.Redis.NudgeChannel, log)
		notifier = nudges
	}

	roomSvc := services.NewRoomService(db, db, db, m, log)
	relaySvc := services.NewRelayService(db, db, notifier, m, log, cfg.Relay.MaxPayloadBytes)
	consultSvc := services.NewConsultationService(db, log)

	limiter := middleware.NewUserRateLimiter(cfg.Relay.SignalsPerSecond, cfg.Relay.SignalBurst, m)

	s := &Server{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Redis:      rdb,
		JWTManager: jwtMgr,
		Hub:        hub,
		Notifier:   nudges,
		Limiter:    limiter,
		Registry:   reg,
		Tracer:     tp,
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.Metrics(m))
	APIEndpoints(router, Endpoints{
		Auth:          handlers.NewAuthHandler(db, jwtMgr, blacklist, log),
		Consultations: handlers.NewConsultationHandler(consultSvc, log),
		RTC:           handlers.NewRTCHandler(roomSvc, relaySvc, hub, cfg.Relay.PollInterval, cfg.Relay.MaxPayloadBytes, log),
		WS:            handlers.NewWebSocketHandler(hub, roomSvc, cfg.Server.AllowedOrigins, log),
		JWT:           jwtMgr,
		Blacklist:     blacklist,
		Limiter:       limiter,
		Metrics:       metrics.Handler(reg),
		Health:        s.health,
	})
	s.Router = router

	return s, nil
}

// health проверяет postgres и redis
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"postgres": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := s.DB.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Run обслуживает запросы до отмены ctx, затем мягко останавливается
func (s *Server) Run(ctx context.Context) error {
	defer s.Log.Sync()

	go s.Hub.Run()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if s.Notifier != nil {
		go func() {
			if err := s.Notifier.Listen(bgCtx); err != nil {
				s.Log.Error("nudge listener stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				s.Limiter.Cleanup()
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:         s.Config.Server.Address(),
		Handler:      s.Router,
		ReadTimeout:  s.Config.Server.ReadTimeout,
		WriteTimeout: s.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("server starting", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.Log.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			s.Log.Error("server run error", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.Log.Warn("http shutdown", zap.Error(err))
	}
	cancelBg()
	s.Hub.Stop()

	if err := s.Tracer.Shutdown(shutdownCtx); err != nil {
		s.Log.Warn("tracer shutdown", zap.Error(err))
	}
	if err := s.Redis.Close(); err != nil {
		s.Log.Warn("redis close", zap.Error(err))
	}
	if err := s.DB.Close(); err != nil {
		s.Log.Warn("postgres close", zap.Error(err))
	}

	return runErr
}
