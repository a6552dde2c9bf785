package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lendflow/lendflow/internal/app"
	"github.com/lendflow/lendflow/internal/auth"
	"github.com/lendflow/lendflow/internal/identity"
	"github.com/lendflow/lendflow/internal/observability"
	"github.com/lendflow/lendflow/internal/pendingaction"
	"github.com/lendflow/lendflow/internal/platform/cache"
	"github.com/lendflow/lendflow/internal/platform/db"
	"github.com/lendflow/lendflow/internal/rbac"
	"github.com/lendflow/lendflow/internal/shared"
	"github.com/lendflow/lendflow/internal/tenancy"
	tenancyhttp "github.com/lendflow/lendflow/internal/tenancy/http"
	"github.com/lendflow/lendflow/internal/users"
	"github.com/lendflow/lendflow/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	tenancyRepo := tenancy.NewRepository(pool)
	audit := shared.NewAuditLogger(pool)
	tenancyService := tenancy.NewService(tenancyRepo, audit, logger)
	rbacService := rbac.NewService(tenancyService, logger, metrics)
	rbacMiddleware := rbac.Middleware{Service: rbacService}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	authService := auth.NewService(auth.NewRepository(pool), tokens, tenancyService, logger)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, tenancyService, rbacService, audit, logger)

	opts := pendingaction.Options{
		Approvals:   shared.NewApprovalRecorder(pool, logger),
		Metrics:     metrics,
		Logger:      logger,
		MaxAttempts: cfg.ApprovalMaxAttempts,
		ClaimTTL:    cfg.ApprovalClaimTTL,
	}
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, approvals rely on database claims only", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		opts.Locker = shared.NewLocker(redisClient, cfg.ApprovalLockTTL)
	}

	redisOpts := cfg.Redis().Asynq()
	queue := jobs.NewClient(redisOpts)
	defer func() {
		_ = queue.Close()
	}()
	opts.Notifier = jobs.NewNotifier(jobs.NewPGDirectory(pool), queue)
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	executors := map[pendingaction.ActionType]pendingaction.Executor{
		pendingaction.ActionCreateTenantUser: pendingaction.NewCreateTenantUserExecutor(usersRepo, identityProvider(cfg, pool), logger),
		pendingaction.ActionAssignTenantRole: pendingaction.NewAssignTenantRoleExecutor(),
	}
	workflow := pendingaction.NewService(pendingaction.NewRepository(pool), rbacService, executors, opts)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Tokens:               tokens,
		AuthHandler:          auth.NewHandler(logger, authService),
		UsersHandler:         users.NewHandler(logger, usersService),
		TenancyHandler:       tenancyhttp.NewHandler(logger, tenancyService, rbacService, rbacMiddleware),
		PendingActionHandler: pendingaction.NewHandler(logger, workflow, shared.NewIdempotencyStore(pool)),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func identityProvider(cfg *app.Config, pool *pgxpool.Pool) identity.Provider {
	if cfg.IdentityProvider == "http" {
		return identity.NewHTTPProvider(cfg.IdentityURL, cfg.IdentityToken, cfg.IdentityTimeout)
	}
	return identity.NewLocalProvider(pool)
}
