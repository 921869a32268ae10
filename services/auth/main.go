package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/reservaja/pkg/auth"
	"github.com/diagnosis/reservaja/pkg/config"
	"github.com/diagnosis/reservaja/pkg/database"
	"github.com/diagnosis/reservaja/pkg/events"
	"github.com/diagnosis/reservaja/pkg/logger"
	"github.com/diagnosis/reservaja/pkg/mailer"
	mw "github.com/diagnosis/reservaja/pkg/middleware"
	"github.com/diagnosis/reservaja/pkg/tracing"
	"github.com/diagnosis/reservaja/services/auth/internal/handlers"
	"github.com/diagnosis/reservaja/services/auth/internal/repository"
	"github.com/diagnosis/reservaja/services/auth/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "auth")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	// Redis backs the sign-in throttle only; without it requests are not limited.
	var rateLimitRepo repository.RateLimitRepository
	if opts, err := redis.ParseURL(cfg.Redis.URL); err != nil {
		logger.Warn("Invalid REDIS_URL, sign-in rate limit disabled", "error", err)
	} else {
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rateLimitRepo = repository.NewRateLimitRepository(rdb)
	}

	// Connect to event bus
	var publisher events.Publisher = events.Discard{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL, "reservaja-auth")
		if err != nil {
			logger.Warn("NATS unavailable, security events disabled", "error", err)
		} else {
			defer bus.Close()
			publisher = bus
		}
	}

	mail := mailer.New(cfg.Email)
	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience, cfg.Auth.AccessTokenTTL)

	// Initialize repositories
	userRepo := repository.NewUserRepository(pool)
	passcodeRepo := repository.NewPasscodeRepository(pool)
	refreshRepo := repository.NewRefreshTokenRepository(pool)
	membershipRepo := repository.NewMembershipRepository(pool)
	companyRepo := repository.NewCompanyRepository(pool)
	invitationRepo := repository.NewInvitationRepository(pool)

	// Initialize services
	issuer := service.NewPasscodeIssuer(userRepo, passcodeRepo, mail, cfg.Auth.PasscodeTTL)
	sessions := service.NewRefreshService(refreshRepo, passcodeRepo, userRepo, signer, publisher, cfg.Auth.RefreshTokenTTL)
	authService := service.NewAuthService(userRepo, passcodeRepo, membershipRepo, invitationRepo, issuer, sessions, signer)
	invitations := service.NewInvitationService(invitationRepo, companyRepo, userRepo, mail, publisher, cfg.Auth.InvitationTTL, cfg.Auth.AppBaseURL)

	h := handlers.New(authService, sessions, invitations, signer, rateLimitRepo, cfg)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("auth"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting auth service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunCleanup(gctx, cfg.Server.CleanupInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down auth service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
