package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/p2pdesk/p2pdesk-api/internal/config"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/evaluation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/notification"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/jwt"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/metrics"
	pkgresponse "github.com/p2pdesk/p2pdesk-api/internal/pkg/response"
)

const version = "1.0.0"

type repositories struct {
	tx          database.Transactor
	users       user.Repository
	karma       karma.Repository
	evaluations evaluation.Repository
	operations  operation.Repository
}

type handlers struct {
	operation  *operation.Handler
	evaluation *evaluation.Handler
	karma      *karma.Handler
	user       *user.Handler
	events     *notification.Handler
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	metrics.Init()

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("storage", cfg.Storage).
		Msg("Starting p2pdesk API")

	var repos repositories
	if cfg.UsesMemoryStorage() {
		repos = memoryRepositories()
	} else {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		if err := database.EnsureSchema(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
		repos = postgresRepositories(db)
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		if !cfg.UsesMemoryStorage() {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, events and cooldowns stay in process")
		rdb = nil
	} else {
		defer database.CloseRedis(rdb)
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Realtime hub ----------
	hub := notification.NewHub(rdb, cfg.EventsChannel)
	go hub.Run()
	defer hub.Shutdown()

	// ---------- Services ----------
	userService := user.NewService(repos.users)
	karmaService := karma.NewService(repos.karma, userService, newCooldown(rdb, cfg))
	gate := evaluation.NewGate(repos.evaluations)
	rater := evaluation.NewRater(gate, repos.evaluations, karmaService, repos.tx)
	operationService := operation.NewService(
		repos.operations,
		repos.tx,
		gate,
		karmaService,
		notification.NewDispatcher(hub),
		operation.Options{
			OfferTTL:            cfg.OfferTTL,
			CollaboratorTimeout: cfg.CollaboratorTimeout,
		},
	)

	worker := operation.NewWorker(operationService, cfg.SweepInterval, cfg.SweepTimeout)
	worker.Start()

	h := handlers{
		operation:  operation.NewHandler(operationService),
		evaluation: evaluation.NewHandler(gate, rater),
		karma:      karma.NewHandler(karmaService),
		user:       user.NewHandler(userService),
		events:     notification.NewHandler(hub, cfg.AllowedOrigins),
	}

	authMiddleware := middleware.Auth(jwtService)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := newRouter(cfg, h, authMiddleware, limiter.Middleware)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	worker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	log.Info().Msg("Server exited properly")
}

func memoryRepositories() repositories {
	return repositories{
		tx:          database.NewLocalTransactor(),
		users:       user.NewMemoryRepository(),
		karma:       karma.NewMemoryRepository(),
		evaluations: evaluation.NewMemoryRepository(),
		operations:  operation.NewMemoryRepository(),
	}
}

func postgresRepositories(db *sqlx.DB) repositories {
	tx := database.NewTransactor(db)
	return repositories{
		tx:          tx,
		users:       user.NewRepository(db),
		karma:       karma.NewRepository(db, tx),
		evaluations: evaluation.NewRepository(db, tx),
		operations:  operation.NewRepository(db),
	}
}

func newCooldown(rdb *redis.Client, cfg *config.Config) karma.Cooldown {
	if rdb == nil {
		return karma.NewMemoryCooldown(cfg.ReactionCooldown)
	}
	return karma.NewRedisCooldown(rdb, cfg.EventsChannel, cfg.ReactionCooldown)
}

func newRouter(cfg *config.Config, h handlers, authMiddleware, rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(metrics.Instrument)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress); browsers cannot set headers on upgrade
	r.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(h.events.Stream)).ServeHTTP(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))
		r.Use(rateLimit)

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		mountOperationRoutes(r, h.operation.Routes(authMiddleware), h.evaluation.RatingRoutes(authMiddleware))
		r.Mount("/scopes", h.operation.ScopeRoutes())
		r.Mount("/evaluations", h.evaluation.Routes(authMiddleware))
		r.Mount("/karma", h.karma.Routes(authMiddleware))
		r.Mount("/users", h.user.Routes(authMiddleware))
	})

	return r
}

// mountOperationRoutes attaches the lifecycle router and the rating sub-resource.
// The rating router is registered on its own pattern so it does not collide with /operations/*.
func mountOperationRoutes(r chi.Router, operations, rating http.Handler) {
	r.Mount("/operations", operations)
	r.Mount("/operations/{id}/rating", rating)
}
