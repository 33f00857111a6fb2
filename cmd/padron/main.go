package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/padron/pkg/audit"
	"github.com/platinummonkey/padron/pkg/auth"
	"github.com/platinummonkey/padron/pkg/config"
	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/middleware"
	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/rbac"
	"github.com/platinummonkey/padron/pkg/registry"
	"github.com/platinummonkey/padron/pkg/storage"
)

var version = "dev"

// maxRequestBytes bounds JSON request bodies
const maxRequestBytes = 1 << 20

func main() {
	profile := flag.String("profile", "", "Path to the YAML profile (default $"+config.ProfileEnv+")")
	flag.StringVar(profile, "p", "", "Shorthand for -profile")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	hashPassword := flag.Bool("hash-password", false, "Read a password from stdin and print its bcrypt hash for the profile's users section")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if *hashPassword {
		if err := printPasswordHash(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("padron: %v", err)
		}
		return
	}

	if err := run(config.ProfilePath(*profile)); err != nil {
		log.Fatalf("padron: %v", err)
	}
}

func run(profilePath string) error {
	cfg, err := config.LoadConfig(profilePath)
	if err != nil {
		return err
	}

	var output io.Writer = os.Stdout
	if cfg.Observability.LogPath != "" {
		file, err := observability.OpenLogFile(cfg.Observability.LogPath)
		if err != nil {
			return err
		}
		defer file.Close()
		output = io.MultiWriter(os.Stdout, file)
	}
	logger := observability.NewLogger(cfg.Observability.Level(), output)
	logger.WithFields(map[string]interface{}{
		"version": version,
		"profile": profilePath,
	}).Info("Starting padron")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdown.RegisterShutdownFunc("otel", providers.Shutdown)

	registryMetrics := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registryMetrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registryMetrics)
	}

	roleDB, err := storage.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("role store: %w", err)
	}
	shutdown.RegisterShutdownFunc("role_store", func(context.Context) error { return roleDB.Close() })

	registryDB, err := storage.OpenDatabase(ctx, cfg.Registry.DatabaseConfig)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	shutdown.RegisterShutdownFunc("registry", func(context.Context) error { return registryDB.Close() })

	redisClient, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		// Redis only backs revocations and throttling; fall back to memory
		logger.WithError(err).Warn("Redis unavailable, using in-memory session state")
		redisClient = nil
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	manager := rbac.NewManager(roleDB, logger, metrics, rbac.Config{
		Dialect:           cfg.Database.Driver,
		SelfRegistration:  cfg.Auth.SelfRegistration,
		AuxiliaryUsername: cfg.Auth.AuxiliaryUsername,
		IntegritySchedule: cfg.Maintenance.IntegritySchedule,
	})
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize role store: %w", err)
	}
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start integrity check: %w", err)
	}
	shutdown.RegisterShutdownFunc("integrity", func(context.Context) error {
		manager.Stop()
		return nil
	})

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	auditMiddleware, auditSearcher, err := setupAudit(ctx, cfg.Audit, roleDB, cfg.Database.Driver, proxies, shutdown, logger, metrics)
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager([]byte(cfg.Auth.SessionSecret), cfg.Auth.SessionTTL, revocationStore(redisClient, cfg.Auth.SessionTTL))
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	authenticator, err := auth.NewStaticAuthenticator(cfg.Auth.Credentials(), cfg.Auth.Domain)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	repo, err := registry.NewRepository(registryDB, registry.Config{
		Dialect:   cfg.Registry.Driver,
		Schema:    cfg.Registry.Schema,
		CacheSize: cfg.Registry.DescriptionCacheSize,
		CacheTTL:  cfg.Registry.DescriptionCacheTTL,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create registry repository: %w", err)
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		observability.RequestLoggingMiddleware(logger),
		observability.RecoveryMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)

	throttle := middleware.LoginThrottle(loginLimiter(redisClient, cfg.Auth), proxies, logger, metrics)
	auth.NewHandlers(authenticator, sessions, logger, metrics, cfg.Auth.SecureCookie).RegisterRoutes(router, throttle)

	api, admin := manager.RegisterRoutes(router, middleware.NewAuthMiddleware(sessions, logger).Handler, auditMiddleware...)
	registry.NewHandlers(repo, manager.GetEngine(), logger).RegisterRoutes(api)
	if auditSearcher != nil {
		audit.NewHandlers(auditSearcher, logger).RegisterRoutes(admin)
	}

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = observability.TraceHandler(router, "padron")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(version, redisClient).
		AddDatabase("role_store", roleDB, "SELECT 1").
		AddDatabase("registry", registryDB, "")
	logger.WithField("dependencies", checker.DependencyNames()).Info("Readiness checks registered")
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registryMetrics)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     httputil.Chain(httputil.RequestIDMiddleware, observability.RecoveryMiddleware(logger))(healthRouter),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown.AddServer("api", server)
	shutdown.AddServer("health", healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, "api", server) })
	g.Go(func() error { return serve(logger, "health", healthServer) })
	if profilePath != "" {
		g.Go(func() error {
			return config.WatchProfile(gctx, profilePath, logger, config.ApplyLogLevel(logger))
		})
	}
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

func serve(logger *observability.Logger, name string, server *http.Server) error {
	logger.WithFields(map[string]interface{}{
		"server": name,
		"addr":   server.Addr,
	}).Info("HTTP server listening")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// setupAudit builds the audit trail sinks. It returns no middleware when
// every sink is disabled, and a nil searcher without the database sink.
func setupAudit(ctx context.Context, cfg config.AuditConfig, db *sql.DB, dialect string, proxies httputil.TrustedProxies, shutdown *observability.ShutdownManager, logger *observability.Logger, metrics *observability.Metrics) ([]mux.MiddlewareFunc, audit.Searcher, error) {
	var (
		sinks    []audit.Logger
		searcher audit.Searcher
	)

	if cfg.Enabled {
		dbLogger, err := audit.NewDBLogger(ctx, db, dialect)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: %w", err)
		}
		sinks = append(sinks, dbLogger)
		searcher = dbLogger
	}

	if cfg.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Path:     cfg.FilePath,
			MaxSize:  cfg.FileMaxSize,
			MaxFiles: cfg.FileMaxFiles,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("audit: %w", err)
		}
		shutdown.RegisterShutdownFunc("audit_file", func(context.Context) error { return fileLogger.Close() })
		sinks = append(sinks, fileLogger)
	}

	if len(sinks) == 0 {
		logger.Warn("Audit trail is disabled")
		return nil, nil, nil
	}

	mw := audit.NewMiddleware(audit.NewMultiLogger(sinks...), proxies, logger, metrics)
	return []mux.MiddlewareFunc{mw.Handler}, searcher, nil
}

func revocationStore(client *redis.Client, ttl time.Duration) auth.RevocationStore {
	if client != nil {
		return auth.NewRedisRevocationStore(client, "padron:revoked:")
	}
	return auth.NewMemoryRevocationStore(10000, ttl)
}

func loginLimiter(client *redis.Client, cfg config.AuthConfig) middleware.Limiter {
	throttle := middleware.DefaultThrottleConfig()
	throttle.Attempts = cfg.LoginAttempts
	throttle.Window = cfg.LoginWindow
	if client != nil {
		return middleware.NewRedisLimiter(client, throttle, "padron:login:")
	}
	return middleware.NewLocalLimiter(throttle)
}

func printPasswordHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password is empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
