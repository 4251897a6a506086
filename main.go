package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/getsentry/sentry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"shaluqa.app/crm/handlers"
	"shaluqa.app/crm/internal/auth"
	"shaluqa.app/crm/internal/config"
	"shaluqa.app/crm/internal/email"
	"shaluqa.app/crm/internal/expiry"
	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/internal/metrics"
	"shaluqa.app/crm/internal/ratelimit"
	"shaluqa.app/crm/internal/scheduler"
	"shaluqa.app/crm/internal/supabase"
	"shaluqa.app/crm/internal/version"
	"shaluqa.app/crm/storage"
)

const (
	shutdownTimeout  = 15 * time.Second
	scheduledTimeout = 10 * time.Minute
)

// Mailer sends every email the CRM produces.
type Mailer interface {
	expiry.Sender
	handlers.WelcomeSender
}

type app struct {
	cfg       *config.Config
	store     storage.Store
	notifier  *expiry.Notifier
	server    *handlers.Server
	scheduler *scheduler.Scheduler
}

func newApp(cfg *config.Config, mailer Mailer, ver string) (*app, error) {
	var sb *supabase.Client
	if cfg.UsesSupabase() {
		var err error
		sb, err = supabase.New(supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create supabase client: %w", err)
		}
	}

	store, err := storage.New(cfg, sb)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	recorder := metrics.New()
	notifier := expiry.NewNotifier(store, mailer, expiry.NewClock(cfg.Location()), expiry.WithRecorder(recorder))

	secureCookie := strings.HasPrefix(cfg.AppURL, "https://")
	var authenticator auth.Authenticator
	switch cfg.AuthMode {
	case config.AuthModeSupabase:
		authenticator = auth.NewSupabaseAuthenticator(sb, secureCookie)
	default:
		authenticator = auth.NewLocalAuthenticator(cfg.LocalAuthUser, cfg.LocalAuthPassword, cfg.SessionSecret, secureCookie)
	}

	deps := handlers.Dependencies{
		Store:          store,
		Checker:        notifier,
		Auth:           authenticator,
		Mailer:         mailer,
		Metrics:        recorder.Handler(),
		LoginLimiter:   ratelimit.New(cfg.LoginRateLimit, time.Minute),
		CronSecret:     cfg.CronSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
		Version:        ver,
	}
	if sb != nil {
		deps.Files = sb
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		server:   handlers.NewHttpServer(deps),
	}

	if cfg.CronSchedule != "" {
		a.scheduler, err = scheduler.New(cfg.CronSchedule, cfg.Location(), scheduledTimeout, a.checkLicenses)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return a, nil
}

// checkLicenses is the scheduled job.
func (a *app) checkLicenses(ctx context.Context) error {
	report, err := a.notifier.Run(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}
	if report.Warnings != nil {
		logger.Warn("Scheduled license check finished with warnings", map[string]interface{}{
			"warnings": report.Warnings.Error(),
		})
	}
	return nil
}

func (a *app) shutdown(ctx context.Context, srv *http.Server) error {
	var result *multierror.Error

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http server: %w", err))
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := a.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: %w", err))
	}

	return result.ErrorOrNil()
}

func main() {
	if err := run(); err != nil {
		logger.Error("Server stopped with error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	cfg, err := config.New()
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel)

	ver := version.Resolve("VERSION")

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          ver,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			return fmt.Errorf("sentry.Init: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	mailer, err := email.NewSMTPSender(email.Config{
		Host:         cfg.SMTPHost,
		Port:         cfg.SMTPPort,
		Username:     cfg.SMTPUsername,
		Password:     cfg.SMTPPassword,
		From:         cfg.EmailFrom,
		AppURL:       cfg.AppURL,
		SupportEmail: cfg.SupportEmail,
	})
	if err != nil {
		return err
	}

	a, err := newApp(cfg, mailer, ver)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Shaluqa CRM API starting", map[string]interface{}{
			"version":   ver,
			"port":      cfg.Port,
			"store":     cfg.Store,
			"auth_mode": cfg.AuthMode,
			"timezone":  cfg.Timezone,
			"scheduled": cfg.CronSchedule != "",
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if serveErr != nil {
		result = multierror.Append(result, serveErr)
	}
	if err := a.shutdown(shutdownCtx, srv); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
