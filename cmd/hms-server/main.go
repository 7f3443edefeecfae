package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/clinical"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/websocket"
)

// jsonBodyLimit caps non-upload request bodies.
const jsonBodyLimit = 1 << 20

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital OPD appointment and queue API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "" || os.Getenv("ENV") == "development")
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid clinic time zone")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Live events: in-process hub, relayed through Redis when configured so
	// every server instance sees every booking.
	hub := websocket.NewHub(logger)
	var publisher events.Publisher = hub
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		broker := events.NewRedisBroker(client, cfg.RedisChannel, hub, logger)
		go func() {
			if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		publisher = broker
		logger.Info().Str("channel", cfg.RedisChannel).Msg("relaying events through redis")
	}
	notifier := events.NewNotifier(publisher, logger)

	blobs, err := newBlobStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open report storage")
	}

	// Domains
	users := identity.NewUserRepoPG(pool)
	patients := identity.NewPatientRepoPG(pool)
	doctors := identity.NewDoctorRepoPG(pool)
	identitySvc := identity.NewService(users, patients, doctors, tx)
	directory := identity.NewDirectory(patients, doctors)

	schedulingSvc := scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool),
		directory,
		tx,
		notifier,
		scheduling.Policy{Interval: cfg.SlotInterval, EnforceGrid: cfg.EnforceGrid, EnforceCap: cfg.EnforceCap},
		loc,
	)

	clinicalSvc := clinical.NewService(
		clinical.NewRecordRepoPG(pool),
		clinical.NewLabReportRepoPG(pool),
		schedulingSvc,
		tx,
		blobs,
		notifier,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.UploadMaxBytes+jsonBodyLimit))
	e.Use(authMiddleware(cfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, cfg.MigrationsDir)))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	clinical.NewHandler(clinicalSvc).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(hub, queueSession(schedulingSvc), cfg.CORSOrigins, logger).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	notifier.Wait()
	stop()
	logger.Info().Msg("server stopped")
	return nil
}

// authMiddleware verifies bearer tokens. In development, requests without a
// token fall back to header identities.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.JWTSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.JWTSigningKey)
	}
	if !cfg.IsDev() {
		return auth.JWTMiddleware(jwtCfg)
	}
	var verify echo.MiddlewareFunc
	if cfg.JWTSigningKey != "" || cfg.AuthJWKSURL != "" || cfg.AuthIssuer != "" {
		verify = auth.JWTMiddleware(jwtCfg)
	}
	return auth.DevAuthMiddleware(verify)
}

func newBlobStore(cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.BlobDir == "" {
		return blobstore.NewInMemoryBlobStore(cfg.UploadMaxBytes), nil
	}
	return blobstore.NewDirBlobStore(cfg.BlobDir, cfg.UploadMaxBytes)
}

type doctorResolver interface {
	DoctorFor(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// queueSession lets doctors follow their own queue and admins any queue.
func queueSession(doctors doctorResolver) websocket.SessionResolver {
	return func(c echo.Context) (websocket.Session, error) {
		userID, err := auth.CallerID(c)
		if err != nil {
			return websocket.Session{}, err
		}
		ctx := c.Request().Context()
		roles := auth.RolesFromContext(ctx)

		if slices.Contains(roles, auth.RoleAdmin) {
			return websocket.Session{CanJoin: func(string) bool { return true }}, nil
		}
		if !slices.Contains(roles, auth.RoleDoctor) {
			return websocket.Session{}, echo.NewHTTPError(http.StatusForbidden, "live queue updates are available to doctors only")
		}

		doctorID, err := doctors.DoctorFor(ctx, userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return websocket.Session{}, echo.NewHTTPError(http.StatusForbidden, "doctor profile not found")
		}
		if err != nil {
			return websocket.Session{}, apperr.ToHTTP(err)
		}
		topic := events.DoctorTopic(doctorID)
		return websocket.Session{
			Topics:  []string{topic},
			CanJoin: func(t string) bool { return t == topic },
		}, nil
	}
}
