package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"
	calendarapi "google.golang.org/api/calendar/v3"
	tasksapi "google.golang.org/api/tasks/v1"

	"github.com/teemow/planfewer/internal/agenda"
	"github.com/teemow/planfewer/internal/instrumentation"
	"github.com/teemow/planfewer/internal/mcp/oauth"
	"github.com/teemow/planfewer/internal/server"
	"github.com/teemow/planfewer/internal/storage"
	"github.com/teemow/planfewer/internal/storage/memory"
	"github.com/teemow/planfewer/internal/storage/sqlite"
	"github.com/teemow/planfewer/internal/tools/agenda_tools"
)

// serveConfig holds the serve command configuration. Every field can be set
// through the environment; flags take precedence when given explicitly.
type serveConfig struct {
	HTTPAddr string `env:"PLANFEWER_HTTP_ADDR" envDefault:":8080"`
	BaseURL  string `env:"PLANFEWER_BASE_URL"`
	Debug    bool   `env:"PLANFEWER_DEBUG"`
	Yolo     bool   `env:"PLANFEWER_YOLO"`

	// ClientDBPath selects the durable client registry backend. Empty means
	// the in-memory store, which loses registrations on restart.
	ClientDBPath string `env:"PLANFEWER_CLIENT_DB"`

	MaxClientsPerIP int  `env:"PLANFEWER_OAUTH_MAX_CLIENTS_PER_IP" envDefault:"10"`
	RateLimitRate   int  `env:"PLANFEWER_RATE_LIMIT_RATE" envDefault:"10"`
	RateLimitBurst  int  `env:"PLANFEWER_RATE_LIMIT_BURST"`
	TrustProxy      bool `env:"PLANFEWER_TRUST_PROXY"`

	AccessTokenTTL     time.Duration `env:"PLANFEWER_ACCESS_TOKEN_TTL"`
	SessionIdleTimeout time.Duration `env:"PLANFEWER_SESSION_IDLE_TIMEOUT"`

	// GoogleAccessToken, when set, authenticates the Google API clients with
	// a static token. Without it, Application Default Credentials are used.
	GoogleAccessToken string `env:"PLANFEWER_GOOGLE_ACCESS_TOKEN"`

	MetricsEnabled bool   `env:"PLANFEWER_METRICS_ENABLED" envDefault:"true"`
	MetricsAddr    string `env:"PLANFEWER_METRICS_ADDR" envDefault:":9090"`
}

func newServeCmd() *cobra.Command {
	var flags serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OAuth-protected MCP server",
		Long: `Start the Model Context Protocol (MCP) server with its built-in OAuth 2.1
authorization server over streamable HTTP.

The server issues its own access tokens: MCP clients register via
/oauth/register, run the authorization code flow with PKCE (S256) via
/oauth/authorize and /oauth/token, and present the bearer token on /mcp.
Confidential clients may use the client_credentials grant instead.

Safety Mode:
  By default, the server operates in read-only mode, providing only safe
  operations. Use --yolo to enable write operations (task creation,
  event deletion, etc.)

Base URL:
  Required for deployed instances:
    --base-url https://your-domain.com OR PLANFEWER_BASE_URL env var
  Auto-detected for localhost (development only).

Client Registry:
  --client-db /path/to/clients.db persists registered OAuth clients in
  SQLite so registrations survive restarts. Without it, an in-memory
  store is used and clients must re-register after a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.ParseAs[serveConfig]()
			if err != nil {
				return fmt.Errorf("failed to parse environment: %w", err)
			}

			// Explicit flags win over environment values.
			overrides := map[string]func(){
				"http-addr":            func() { cfg.HTTPAddr = flags.HTTPAddr },
				"base-url":             func() { cfg.BaseURL = flags.BaseURL },
				"debug":                func() { cfg.Debug = flags.Debug },
				"yolo":                 func() { cfg.Yolo = flags.Yolo },
				"client-db":            func() { cfg.ClientDBPath = flags.ClientDBPath },
				"max-clients-per-ip":   func() { cfg.MaxClientsPerIP = flags.MaxClientsPerIP },
				"rate-limit":           func() { cfg.RateLimitRate = flags.RateLimitRate },
				"rate-limit-burst":     func() { cfg.RateLimitBurst = flags.RateLimitBurst },
				"trust-proxy":          func() { cfg.TrustProxy = flags.TrustProxy },
				"access-token-ttl":     func() { cfg.AccessTokenTTL = flags.AccessTokenTTL },
				"session-idle-timeout": func() { cfg.SessionIdleTimeout = flags.SessionIdleTimeout },
				"metrics-enabled":      func() { cfg.MetricsEnabled = flags.MetricsEnabled },
				"metrics-addr":         func() { cfg.MetricsAddr = flags.MetricsAddr },
			}
			for name, apply := range overrides {
				if cmd.Flags().Changed(name) {
					apply()
				}
			}

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&flags.HTTPAddr, "http-addr", ":8080", "HTTP server address. Can also use PLANFEWER_HTTP_ADDR env var.")
	cmd.Flags().StringVar(&flags.BaseURL, "base-url", "", "Public base URL for OAuth. Required for deployed instances. Can also use PLANFEWER_BASE_URL env var. Example: https://mcp.example.com")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&flags.Yolo, "yolo", false, "Enable write operations (task creation, event deletion, etc.). Default is read-only mode.")
	cmd.Flags().StringVar(&flags.ClientDBPath, "client-db", "", "Path to the SQLite client registry database. Empty uses an in-memory store. Can also use PLANFEWER_CLIENT_DB env var.")
	cmd.Flags().IntVar(&flags.MaxClientsPerIP, "max-clients-per-ip", 10, "Maximum number of OAuth clients that can be registered per IP address (prevents DoS). Can also use PLANFEWER_OAUTH_MAX_CLIENTS_PER_IP env var.")
	cmd.Flags().IntVar(&flags.RateLimitRate, "rate-limit", 10, "Requests per second per IP for OAuth and MCP endpoints. 0 disables rate limiting. Can also use PLANFEWER_RATE_LIMIT_RATE env var.")
	cmd.Flags().IntVar(&flags.RateLimitBurst, "rate-limit-burst", 0, "Rate limit burst size. 0 means twice the rate. Can also use PLANFEWER_RATE_LIMIT_BURST env var.")
	cmd.Flags().BoolVar(&flags.TrustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP headers. Only enable behind a trusted reverse proxy. Can also use PLANFEWER_TRUST_PROXY env var.")
	cmd.Flags().DurationVar(&flags.AccessTokenTTL, "access-token-ttl", 0, "Access token lifetime. 0 uses the default of 1h. Can also use PLANFEWER_ACCESS_TOKEN_TTL env var.")
	cmd.Flags().DurationVar(&flags.SessionIdleTimeout, "session-idle-timeout", 0, "Idle timeout after which sessions are evicted. 0 uses the default of 30m. Can also use PLANFEWER_SESSION_IDLE_TIMEOUT env var.")
	cmd.Flags().BoolVar(&flags.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use PLANFEWER_METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use PLANFEWER_METRICS_ADDR env var.")

	return cmd
}

func runServe(cfg serveConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Determine base URL from flag, environment variable, or auto-detection
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s", cfg.HTTPAddr)
		if cfg.HTTPAddr[0] == ':' {
			baseURL = fmt.Sprintf("http://localhost%s", cfg.HTTPAddr)
		}
		logger.Info("no base URL configured, using auto-detected",
			"base_url", baseURL,
			"hint", "for deployed instances, set --base-url or PLANFEWER_BASE_URL")
	} else {
		logger.Info("using configured base URL", "base_url", baseURL)
	}

	// Initialize instrumentation provider
	provider, err := instrumentation.NewProvider(shutdownCtx, instrumentation.Config{
		Enabled:        cfg.MetricsEnabled,
		ServiceName:    "planfewer",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()
	metrics := provider.Metrics()

	// Start metrics server on its dedicated port
	var metricsServer *server.MetricsServer
	if provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(cfg.MetricsAddr, provider)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	// Client registry storage: SQLite when a path is configured, otherwise
	// in-memory
	var clientStore storage.ClientStore
	if cfg.ClientDBPath != "" {
		clientStore, err = sqlite.Open(cfg.ClientDBPath)
		if err != nil {
			return fmt.Errorf("failed to open client database: %w", err)
		}
		logger.Info("using SQLite client registry", "path", cfg.ClientDBPath)
	} else {
		clientStore = memory.New()
		logger.Warn("using in-memory client registry; registrations will not survive restarts")
	}
	defer func() {
		if err := clientStore.Close(); err != nil {
			logger.Error("client store close failed", "error", err)
		}
	}()

	// Authorization server
	authzServer, err := oauth.NewAuthorizationServer(&oauth.Config{
		Issuer:          baseURL,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		MaxClientsPerIP: cfg.MaxClientsPerIP,
		RateLimit: oauth.RateLimitConfig{
			Rate:       cfg.RateLimitRate,
			Burst:      cfg.RateLimitBurst,
			TrustProxy: cfg.TrustProxy,
		},
		Metrics: metrics,
		Logger:  logger,
	}, clientStore)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	defer authzServer.Stop()

	// Session factory: build the Google API clients for a session
	factory := func(ctx context.Context, sessionID, clientID string) (any, error) {
		var httpClient *http.Client
		if cfg.GoogleAccessToken != "" {
			httpClient = agenda.NewHTTPClient(ctx, cfg.GoogleAccessToken)
		} else {
			client, err := agenda.NewDefaultHTTPClient(ctx,
				tasksapi.TasksScope, calendarapi.CalendarScope)
			if err != nil {
				return nil, fmt.Errorf("failed to build Google credentials: %w", err)
			}
			httpClient = client
		}

		tasksClient, err := agenda.NewTasksClient(ctx, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create tasks client: %w", err)
		}
		calendarClient, err := agenda.NewCalendarClient(ctx, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar client: %w", err)
		}

		metrics.IncrementActiveSessions(ctx)
		return &server.AgendaState{
			Tasks:    tasksClient,
			Calendar: calendarClient,
		}, nil
	}

	sessions := server.NewSessionCoordinator(factory,
		cfg.SessionIdleTimeout, server.DefaultSessionSweepInterval, logger)
	sessions.OnTeardown(func(session *server.Session, reason string) {
		metrics.DecrementActiveSessions(context.Background())
		metrics.RecordSessionEviction(context.Background(), reason)
	})

	// Revoking a token tears down the session it backs.
	authzServer.Tokens().OnRevoke(func(token *oauth.Token) {
		sessions.Evict(token.ID, "token revoked")
	})

	serverContext := server.NewServerContext(shutdownCtx, sessions, metrics)
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", "error", err)
		}
	}()

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("planfewer", version,
		mcpserver.WithToolCapabilities(true),
	)

	// readOnly is the inverse of yolo
	readOnly := !cfg.Yolo
	if readOnly {
		logger.Info("starting server in READ-ONLY mode (use --yolo to enable write operations)")
	} else {
		logger.Info("starting server with WRITE operations enabled (--yolo flag is set)")
	}

	if err := agenda_tools.RegisterAgendaTools(mcpSrv, serverContext, readOnly); err != nil {
		return fmt.Errorf("failed to register agenda tools: %w", err)
	}

	// The server is not ready until the client registry has loaded
	health := server.NewHealthChecker(serverContext)
	if err := authzServer.Load(shutdownCtx); err != nil {
		return fmt.Errorf("failed to load client registry: %w", err)
	}
	health.SetReady(true)

	oauthServer := server.NewOAuthHTTPServer(mcpSrv, authzServer, sessions, health)

	logger.Info("starting OAuth-protected MCP server",
		"addr", cfg.HTTPAddr,
		"mcp_endpoint", "/mcp",
		"authorization_server", baseURL,
		"health_endpoints", "/healthz, /readyz",
	)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := oauthServer.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer stopCancel()
		if err := oauthServer.Shutdown(stopCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(stopCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("server gracefully stopped")
	return nil
}
