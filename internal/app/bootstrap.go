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

	"user-portal/internal/auth"
	"user-portal/internal/db"
	"user-portal/internal/mail"
	"user-portal/internal/maintenance"
	"user-portal/internal/media"
	"user-portal/internal/observability"
	"user-portal/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	// A missing or empty signing secret is fatal: the process must not
	// serve traffic it cannot verify tokens for.
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development"), os.Getenv("APP_RELEASE")); err != nil {
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

	codec, err := auth.NewCodec(
		jwtSecret,
		envHoursOrDefault("TOKEN_TTL_HOURS", 120),
		os.Getenv("JWT_ISSUER"),
		os.Getenv("JWT_AUDIENCE"),
	)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	guard := auth.NewAttemptGuard(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_ATTEMPT_TTL_MINUTES", 15),
	)

	logger.Info("auth_configured", map[string]any{
		"token_ttl_hours":    codec.TTL().Hours(),
		"login_max_attempts": envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
	})

	userRepo := user.NewRepository(database)
	authService := auth.NewService(userRepo, guard, codec)

	tokenHeader := envOrDefault("TOKEN_HEADER", auth.DefaultTokenHeader)
	authHandler := auth.NewHandler(authService, tokenHeader)

	var mailer mail.Mailer
	if smtpHost := strings.TrimSpace(os.Getenv("SMTP_HOST")); smtpHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     smtpHost,
			Port:     os.Getenv("SMTP_PORT"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		})
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	var uploader user.ImageUploader
	if cloudinaryURL := strings.TrimSpace(os.Getenv("CLOUDINARY_URL")); cloudinaryURL != "" {
		uploader, err = media.NewCloudinary(cloudinaryURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
	}

	userService := user.NewService(userRepo, mailer, logger)
	userHandler := user.NewHandler(userService, uploader)

	cleanupHandler := maintenance.NewCleanupHandler(
		guard,
		userRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("LOCK_RETENTION_HOURS", 24),
	)

	if adminUsername := strings.TrimSpace(os.Getenv("ADMIN_USERNAME")); adminUsername != "" {
		adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
		if adminPassword == "" {
			_ = database.Close()
			return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
		}
		if err := userRepo.UpsertAdmin(context.Background(), adminUsername, adminPassword); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /user/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /user/register", userHandler.Register)
	mux.HandleFunc("GET /user/resetPassword/{email}", userHandler.ResetPassword)
	mux.HandleFunc("GET /user/image/{username}", userHandler.ProfileImage)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /user/list", auth.RequireAuthority(auth.AuthorityUserRead, http.HandlerFunc(userHandler.List)))
	mux.Handle("GET /user/find/{username}", auth.RequireAuthority(auth.AuthorityUserRead, http.HandlerFunc(userHandler.Find)))
	mux.Handle("POST /user/add", auth.RequireAuthority(auth.AuthorityUserCreate, http.HandlerFunc(userHandler.Add)))
	mux.Handle("POST /user/update", auth.RequireAuthority(auth.AuthorityUserUpdate, http.HandlerFunc(userHandler.Update)))
	mux.Handle("POST /user/updateProfileImage", auth.RequireAuthority(auth.AuthorityUserUpdate, http.HandlerFunc(userHandler.UpdateProfileImage)))
	mux.Handle("POST /user/unlock", auth.RequireAuthority(auth.AuthorityUserUpdate, http.HandlerFunc(authHandler.Unlock)))
	mux.Handle("DELETE /user/delete/{username}", auth.RequireAuthority(auth.AuthorityUserDelete, http.HandlerFunc(userHandler.Delete)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)

	authorizer := auth.NewAuthorizer(codec, tokenHeader, auth.DefaultPublicRoutes, logger)
	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			authorizer.Middleware(mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
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
