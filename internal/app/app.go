// Package app wires the incident core and serves its ops endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/incident-relay/internal/audit"
	auditpostgres "github.com/bissquit/incident-relay/internal/audit/postgres"
	"github.com/bissquit/incident-relay/internal/authz"
	"github.com/bissquit/incident-relay/internal/config"
	"github.com/bissquit/incident-relay/internal/distlists"
	distlistspostgres "github.com/bissquit/incident-relay/internal/distlists/postgres"
	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/incidents"
	incidentspostgres "github.com/bissquit/incident-relay/internal/incidents/postgres"
	"github.com/bissquit/incident-relay/internal/notifications"
	"github.com/bissquit/incident-relay/internal/notifications/email"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
	"github.com/bissquit/incident-relay/internal/pkg/httputil"
	"github.com/bissquit/incident-relay/internal/pkg/metrics"
	"github.com/bissquit/incident-relay/internal/pkg/postgres"
	"github.com/bissquit/incident-relay/internal/pkg/redisutil"
	"github.com/bissquit/incident-relay/internal/recipients"
	"github.com/bissquit/incident-relay/internal/templates"
	templatespostgres "github.com/bissquit/incident-relay/internal/templates/postgres"
	"github.com/bissquit/incident-relay/internal/users"
	userspostgres "github.com/bissquit/incident-relay/internal/users/postgres"
	"github.com/bissquit/incident-relay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "incident-relay:lock:incident:"

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	users         *users.Service
	incidents     *incidents.Service
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	if cfg.Redis.Enabled {
		app.redis, err = redisutil.Connect(connectCtx, redisutil.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			app.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	go app.collectPoolMetrics(metricsCtx)

	app.incidents, err = app.buildIncidents()
	if err != nil {
		app.close()
		return nil, fmt.Errorf("build incident service: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Incidents returns the incident service for in-process callers.
func (a *App) Incidents() *incidents.Service {
	return a.incidents
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) close() error {
	a.metricsCancel()
	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			err = fmt.Errorf("close redis: %w", cerr)
		}
	}
	a.db.Close()
	return err
}

func (a *App) buildIncidents() (*incidents.Service, error) {
	var lists distlists.Repository = distlistspostgres.NewRepository(a.db)
	var locker incidents.Locker = incidents.NewLocalLocker()
	if a.redis != nil {
		lists = distlists.NewCachedRepository(lists, a.redis, a.config.Redis.CacheTTL)
		locker = redisutil.NewLocker(a.redis, lockPrefix, a.config.Redis.LockTTL)
	}
	checkValidatorRoster(lists)

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	notifier, err := a.buildNotifier()
	if err != nil {
		return nil, err
	}

	a.users = users.NewService(userspostgres.NewRepository(a.db), a.config.RoleMapping())

	return incidents.NewService(incidents.Dependencies{
		Repo:       incidentspostgres.NewRepository(a.db),
		Recorder:   audit.NewRecorder(auditpostgres.NewRepository(a.db), a.config.Audit.DiffDenylist),
		Recipients: recipients.NewService(lists),
		Templates:  templates.NewService(templatespostgres.NewRepository(a.db), lists, a.config.Templates.MatchThreshold),
		Users:      a.users,
		Notifier:   notifier,
		Authorizer: enforcer,
		Locker:     locker,
	}), nil
}

// checkValidatorRoster warns at startup when the validator roster is not a singleton.
func checkValidatorRoster(lists distlists.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	validatorType := domain.DistributionListValidator
	active, err := lists.ListActive(ctx, distlists.Filter{Type: &validatorType})
	if err != nil {
		slog.Warn("failed to load validator roster", "error", err)
		return
	}
	if err := distlists.ValidateRoster(active); err != nil {
		slog.Warn("validator roster misconfigured: escalations will reach standard recipients only", "error", err)
	}
}

func (a *App) buildNotifier() (*notifications.Mailer, error) {
	cfg := a.config.Notifications

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Warn("unknown notification timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}
	renderer, err := notifications.NewRenderer(loc)
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	var sender notifications.Sender
	if cfg.Enabled {
		sender, err = email.NewSender(email.Config{
			SMTPHost:      cfg.Email.SMTPHost,
			SMTPPort:      cfg.Email.SMTPPort,
			SMTPUser:      cfg.Email.SMTPUser,
			SMTPPassword:  cfg.Email.SMTPPassword,
			FromAddress:   cfg.Email.FromAddress,
			BatchSize:     cfg.Email.BatchSize,
			RatePerSecond: cfg.Email.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
	} else {
		slog.Warn("notifications are disabled: incident emails will not be sent")
	}

	return notifications.NewMailer(notifications.Config{
		Enabled: cfg.Enabled,
		BaseURL: cfg.BaseURL,
		Retry: notifications.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}, sender, renderer), nil
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	record := func() {
		metrics.RecordDBPoolMetrics(a.db)
		if a.redis != nil {
			metrics.RecordRedisPoolMetrics(a.redis)
		}
	}
	record()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics first to measure full request time.
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	incidentsHandler := incidents.NewHandler(a.incidents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.ActorMiddleware(a.users, []httputil.ErrorMapping{
			{Error: users.ErrUserNotFound, Status: http.StatusUnauthorized, Message: "unknown user"},
		}))
		incidentsHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// replaceLevel names ctxlog.LevelCritical instead of printing ERROR+4.
func replaceLevel(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.LevelKey {
		return attr
	}
	if level, ok := attr.Value.Any().(slog.Level); ok && level == ctxlog.LevelCritical {
		attr.Value = slog.StringValue("CRITICAL")
	}
	return attr
}
