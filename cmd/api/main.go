// Package main is the entrypoint for the notes API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/cache"
	"github.com/notely/notely/internal/config"
	"github.com/notely/notely/internal/handler"
	"github.com/notely/notely/internal/mail"
	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/middleware"
	"github.com/notely/notely/internal/oauth"
	"github.com/notely/notely/internal/repository"
	"github.com/notely/notely/internal/server"
	"github.com/notely/notely/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Schema first, so the pool never sees a half-migrated database.
	if err := repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Error("failed to apply migrations",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("migrations failed")
	}
	logger.Info("database migrations applied")

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("database unavailable")
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("redis unavailable")
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	metricsRecorder := metrics.NewInMemory()

	// OTP delivery: the outbox feeds a Redis stream drained by the worker.
	sender, err := newSender(cfg, logger)
	if err != nil {
		return fmt.Errorf("mail sender: %w", err)
	}
	outbox := mail.NewOutbox(cacheClient.Client(), logger, metricsRecorder)
	mailWorker := mail.NewWorker(
		cacheClient.Client(),
		sender,
		logger,
		mail.NewConsumerID(),
		cfg.MailRatePerSecond,
		metricsRecorder,
	)
	mailWorker.SetBlockTimeout(cfg.MailBlockTimeout)
	mailWorker.SetRetryBackoff(cfg.MailRetryBackoff)
	mailWorker.SetClaimIdle(cfg.MailClaimIdle)

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)

	authService := service.NewAuthService(repo, outbox, tokens, service.AuthConfig{
		OTPTTL:           cfg.OTPTTL,
		RevealUnverified: cfg.LoginOTPRevealUnverified,
	}, logger, metricsRecorder)
	noteService := service.NewNoteService(repo, metricsRecorder)

	var federatedService *service.FederatedService
	if cfg.GoogleEnabled() {
		provider := oauth.NewGoogleProvider(oauth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL(),
		})
		federatedService = service.NewFederatedService(repo, provider, cacheClient, tokens, logger, metricsRecorder)
		logger.Info("google sign-in enabled", "callback_url", cfg.GoogleCallbackURL())
	} else {
		logger.Info("google sign-in disabled: GOOGLE_CLIENT_ID not set")
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	router := handler.NewRouter(handler.RouterConfig{
		Logger:  logger,
		Health:  handler.NewHealthHandler(repo, cacheClient, logger),
		Metrics: handler.NewMetricsHandler(metricsRecorder),
		Auth:    handler.NewAuthHandler(authService, logger),
		Google:  handler.NewGoogleHandler(federatedService, cfg.FrontendURL, logger),
		Notes:   handler.NewNoteHandler(noteService, logger),
		RequireUser: middleware.Auth(middleware.AuthConfig{
			Logger:   logger,
			Tokens:   tokens,
			Users:    repo,
			Cache:    cacheClient,
			Recorder: metricsRecorder,
		}),
		RateLimit: middleware.RateLimitConfig{
			Logger:  logger,
			Limiter: cacheClient,
			Enabled: cfg.RateLimitAuthEnabled,
			RPS:     cfg.RateLimitAuthRPS,
			Burst:   cfg.RateLimitAuthBurst,
		},
		CORS:               corsCfg,
		Security:           middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()},
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	srv := server.New(router, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	go func() {
		if err := mailWorker.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("mail worker stopped", "error", err)
		}
	}()
	srv.OnShutdown("mail-worker", mailWorker.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"mail_driver", cfg.MailDriver,
		"frontend_url", cfg.FrontendURL,
	)

	return srv.Run(ctx)
}

// newSender picks the mail transport for MAIL_DRIVER.
func newSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.MailDriver {
	case config.MailDriverSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case config.MailDriverLog:
		logger.Warn("MAIL_DRIVER=log: OTP codes are written to the log, not emailed")
		return mail.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.MailDriver)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

// sanitizeError replaces any secret URL inside err's message with its
// redacted form.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
