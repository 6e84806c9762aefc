package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"classroom-api/internal/activity"
	"classroom-api/internal/auth"
	"classroom-api/internal/db"
	"classroom-api/internal/maintenance"
	"classroom-api/internal/media"
	"classroom-api/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole backend and returns the root handler. Shared by the
// server entrypoint and the serverless entrypoint.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	// An empty APP_SECRET disables the authentication subsystem: every
	// request runs anonymous and role-guarded routes answer 401.
	appSecret := strings.TrimSpace(os.Getenv("APP_SECRET"))
	if appSecret == "" {
		logger.Warn("app_secret_missing", map[string]any{"detail": "authentication is disabled"})
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codec := auth.NewCodec(appSecret)
	tokenService := auth.NewTokenService(codec)
	tokenService.WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 24),
	)

	userRepo := auth.NewRepository(database)
	authHandler := auth.NewHandler(userRepo, tokenService, codec, logger)
	authMiddleware := auth.NewMiddleware(codec, tokenService, userRepo, logger)
	loginThrottle := auth.NewLoginThrottle(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	if err := bootstrapAdmin(userRepo); err != nil {
		_ = database.Close()
		return nil, err
	}

	activityRepo := activity.NewRepository(database)
	activityHandler := activity.NewHandler(activityRepo)

	var uploader media.ImageUploader
	if cloudinaryURL := strings.TrimSpace(os.Getenv("CLOUDINARY_URL")); cloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cloudinaryURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		uploader = cloudinaryClient
	}
	uploadHandler := media.NewUploadHandler(uploader)

	cleanupHandler := maintenance.NewCleanupHandler(
		activityRepo,
		loginThrottle,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("ACTIVITY_RETENTION_DAYS", 30),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /login", loginThrottle.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /activities", authMiddleware.Optional()(http.HandlerFunc(activityHandler.List)))
	mux.Handle("GET /activities/{id}", authMiddleware.Optional()(http.HandlerFunc(activityHandler.Get)))
	mux.Handle("POST /activities", authMiddleware.Require(auth.RoleStandard)(http.HandlerFunc(activityHandler.Create)))
	mux.Handle("PUT /activities/{id}", authMiddleware.Require(auth.RoleStandard)(http.HandlerFunc(activityHandler.Update)))
	mux.Handle("DELETE /activities/{id}", authMiddleware.Require(auth.RoleAdmin)(http.HandlerFunc(activityHandler.Delete)))
	mux.Handle("POST /media/upload", authMiddleware.Require(auth.RoleStandard)(http.HandlerFunc(uploadHandler.Upload)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			auth.CSRFGuard(mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func bootstrapAdmin(users *auth.Repository) error {
	username := strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
	email := strings.TrimSpace(strings.ToLower(os.Getenv("ADMIN_EMAIL")))
	password := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))

	if username == "" && email == "" && password == "" {
		return nil
	}
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME, ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	if err := users.EnsureSuperAdmin(context.Background(), username, email, password); err != nil {
		return fmt.Errorf("bootstrap superadmin: %w", err)
	}

	return nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
