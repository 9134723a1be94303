// Package main is the broker daemon's composition root: it parses the CLI
// surface (spec §6), wires config/driver/session/state/crawl/tools/auth/
// transport together, and runs the HTTP server to completion. Grounded on
// cmd/flaresolverr/main.go's load-validate-construct-serve-shutdown shape,
// generalized from FlareSolverr's single browser.Pool + handlers.Handler
// pair onto this broker's wider set of collaborators.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/darbotlabs/browser-broker/internal/audit"
	"github.com/darbotlabs/browser-broker/internal/auth"
	"github.com/darbotlabs/browser-broker/internal/config"
	"github.com/darbotlabs/browser-broker/internal/crawl"
	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/metrics"
	"github.com/darbotlabs/browser-broker/internal/peersync"
	"github.com/darbotlabs/browser-broker/internal/session"
	"github.com/darbotlabs/browser-broker/internal/state"
	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/tools/autonomous"
	"github.com/darbotlabs/browser-broker/internal/tools/capture"
	"github.com/darbotlabs/browser-broker/internal/tools/intent"
	"github.com/darbotlabs/browser-broker/internal/tools/interact"
	"github.com/darbotlabs/browser-broker/internal/tools/navigate"
	"github.com/darbotlabs/browser-broker/internal/tools/profiles"
	"github.com/darbotlabs/browser-broker/internal/tools/storage"
	"github.com/darbotlabs/browser-broker/internal/tools/tabs"
	"github.com/darbotlabs/browser-broker/internal/tools/testing"
	"github.com/darbotlabs/browser-broker/internal/tools/wait"
	"github.com/darbotlabs/browser-broker/internal/transport"
	"github.com/darbotlabs/browser-broker/pkg/version"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var showVersion bool
	var configFile string

	cmd := &cobra.Command{
		Use:          "browserbrokerd",
		Short:        "Multi-tenant browser automation broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("browserbrokerd %s\n", version.Full())
				return nil
			}
			return run(configFile)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file")

	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 8931, "listen port")
	flags.String("browser", "", "path to the Chrome/Chromium binary (empty auto-detects)")
	flags.Bool("headless", true, "run the browser headless")
	flags.String("user-data-dir", "", "persistent Chrome profile directory (empty uses a temp dir)")
	flags.Bool("isolated", false, "always launch a fresh incognito-style context")
	flags.String("allowed-origins", "", "comma-separated origin allow-list for outbound navigation")
	flags.String("blocked-origins", "", "comma-separated origin deny-list for outbound navigation")
	flags.Bool("block-service-workers", false, "block service worker registration")
	flags.String("proxy-server", "", "default upstream proxy for new contexts")
	flags.String("proxy-bypass", "", "comma-separated proxy bypass list")
	flags.String("viewport-size", "1280,720", "default viewport size as \"W,H\"")
	flags.String("user-agent", "", "override the default user agent")
	flags.String("device", "", "emulate a named device preset")
	flags.Bool("ignore-https-errors", false, "ignore TLS certificate errors")
	flags.String("storage-state", "", "path to a storage-state JSON file to restore on boot")
	flags.Bool("save-trace", false, "capture a Playwright-style trace per session")
	flags.String("output-dir", "", "directory for crawl reports and traces (empty derives from --data-dir)")
	flags.String("cdp-endpoint", "", "attach to an existing Chrome via CDP instead of launching one")
	flags.Bool("no-sandbox", false, "accepted for CLI compatibility; the launcher always disables the Chrome sandbox")
	flags.Bool("vision", false, "accepted for CLI compatibility; tool descriptions do not change with it")
	flags.String("image-responses", "auto", "image response mode: allow|omit|auto")

	flags.Int("max-concurrent-sessions", 100, "maximum live sessions")
	flags.Int64("session-timeout-ms", 1_800_000, "idle session TTL in milliseconds")
	flags.Duration("session-sweep-interval", time.Minute, "idle-session sweep frequency")
	flags.Duration("default-rpc-timeout", 60*time.Second, "default per-tool-call deadline")
	flags.Duration("network-idle-wait", 30*time.Second, "max wait for network idle after a mutating tool")

	flags.String("server-base-url", "", "externally reachable base URL, used by the OAuth proxy")
	flags.Bool("entra-auth-enabled", false, "enable Entra ID bearer JWT authentication")
	flags.String("azure-tenant-id", "", "Entra tenant id")
	flags.String("azure-client-id", "", "Entra client id")
	flags.String("azure-client-secret", "", "Entra client secret")
	flags.Bool("api-key-auth-enabled", false, "enable shared-secret (X-API-Key) authentication")
	flags.String("api-keys", "", "comma-separated list of accepted API keys")
	flags.Bool("tunnel-auth-enabled", false, "trust an upstream tunnel's identity header")
	flags.String("tunnel-allowed-domains", "", "comma-separated Host suffixes the tunnel is trusted for")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For for rate limiting and tunnel auth")
	flags.Bool("managed-identity-enabled", false, "enable Azure managed identity authentication")
	flags.String("azure-key-vault-url", "", "Key Vault URL backing managed identity secrets")
	flags.Bool("allow-anonymous-access", false, "allow unauthenticated requests when no method matches")
	flags.String("required-roles", "", "comma-separated roles a principal must carry")

	flags.Bool("audit-logging-enabled", true, "persist a structured audit log of tool calls")
	flags.String("audit-db-path", "", "sqlite audit database path (empty derives from --data-dir)")

	flags.Int("crawl-rate-per-second", 2, "autonomous crawl outbound rate limit")
	flags.Int("crawl-rate-burst", 5, "autonomous crawl outbound burst allowance")
	flags.Duration("crawl-default-timeout", 10*time.Minute, "autonomous crawl wall-clock budget")
	flags.Int("crawl-screenshot-every", 5, "capture a screenshot every N visited states (0 disables)")
	flags.Int("crawl-max-states", 5000, "memory store eviction threshold")
	flags.String("crawl-guardrail-policy", "", "path to a YAML file of hot-reloadable guardrail block-list overrides (empty disables)")

	flags.String("data-dir", "./data", "root directory for session state, crawl memory, and audit data")

	flags.String("metrics-addr", "", "separate listen address for /metrics (empty serves it on the main port)")
	flags.String("log-level", "info", "trace|debug|info|warn|error|fatal")

	flags.Int("rate-limit-rpm", 0, "per-IP request rate limit in requests/minute (0 disables)")
	flags.Duration("request-timeout", 0, "hard per-request deadline enforced by the transport layer (0 disables)")

	bindAll(flags)
	return cmd
}

// bindAll binds every cobra flag to the config.KeyXxx viper key of the same
// name, so config.Load reads flags, env vars, and config-file values
// through one viper.Get* surface regardless of origin.
func bindAll(flags *pflag.FlagSet) {
	keys := []string{
		config.KeyHost, config.KeyPort, config.KeyBrowserPath, config.KeyHeadless,
		config.KeyUserDataDir, config.KeyIsolated, config.KeyAllowedOrigins, config.KeyBlockedOrigins,
		config.KeyBlockServiceWorkers, config.KeyProxyServer, config.KeyProxyBypass, config.KeyViewportSize,
		config.KeyUserAgent, config.KeyDevice, config.KeyIgnoreHTTPSErrors, config.KeyStorageState,
		config.KeySaveTrace, config.KeyOutputDir, config.KeyCDPEndpoint, config.KeyNoSandbox,
		config.KeyMaxConcurrentSessions, config.KeySessionTimeoutMS, config.KeySessionSweepInterval,
		config.KeyDefaultRPCTimeout, config.KeyNetworkIdleWait,
		config.KeyServerBaseURL, config.KeyEntraAuthEnabled, config.KeyAzureTenantID, config.KeyAzureClientID,
		config.KeyAzureClientSecret, config.KeyAPIKeyAuthEnabled, config.KeyAPIKeys, config.KeyTunnelAuthEnabled,
		config.KeyTunnelAllowedDomains, config.KeyTrustProxy, config.KeyManagedIdentityEnabled,
		config.KeyAzureKeyVaultURL, config.KeyAllowAnonymousAccess, config.KeyRequiredRoles,
		config.KeyAuditLoggingEnabled, config.KeyAuditDBPath,
		config.KeyCrawlRatePerSecond, config.KeyCrawlRateBurst, config.KeyCrawlDefaultTimeout,
		config.KeyCrawlScreenshotEvery, config.KeyCrawlMaxStates, config.KeyCrawlGuardrailPolicy,
		config.KeyDataDir, config.KeyMetricsAddr, config.KeyLogLevel,
		"rate-limit-rpm", "request-timeout",
	}
	for _, k := range keys {
		if err := viper.BindPFlag(k, flags.Lookup(k)); err != nil {
			log.Fatal().Err(err).Str("flag", k).Msg("config: failed to bind flag")
		}
	}
}

func run(configFile string) error {
	viper.SetEnvPrefix("BROKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	cfg.Validate()
	printBanner()

	drv, err := newDriver(cfg)
	if err != nil {
		return fmt.Errorf("start browser driver: %w", err)
	}

	sessionMgr := session.NewManager(drv, cfg.MaxConcurrentSessions, cfg.SessionTimeout, cfg.SessionSweepInterval)

	stateStore, err := state.NewStore(cfg.DataDir, "", "broker", hostID())
	if err != nil {
		return fmt.Errorf("open session-state store: %w", err)
	}

	peerMgr, err := peersync.NewManager(cfg.DataDir, stateStore)
	if err != nil {
		return fmt.Errorf("open peer-sync manager: %w", err)
	}

	memStore, err := crawl.NewLocalStore(cfg.DataDir, cfg.CrawlMaxStates)
	if err != nil {
		return fmt.Errorf("open crawl memory store: %w", err)
	}
	crawlCfg := crawl.Config{
		OutputDir:           cfg.OutputDir,
		RatePerSecond:       cfg.CrawlRatePerSecond,
		RateBurst:           cfg.CrawlRateBurst,
		DefaultTimeout:      cfg.CrawlDefaultTimeout,
		ScreenshotEvery:     cfg.CrawlScreenshotEvery,
		GuardrailPolicyPath: cfg.CrawlGuardrailPolicy,
	}
	orchestrator := crawl.NewOrchestrator(sessionMgr, memStore, crawlCfg)

	registry := tools.NewRegistry()
	navigate.Register(registry)
	interact.Register(registry)
	capture.Register(registry)
	tabs.Register(registry)
	wait.Register(registry)
	testing.Register(registry)
	storage.Register(registry)
	profiles.Register(registry)
	autonomous.Register(registry)
	intent.Register(registry)

	dispatcher := tools.NewDispatcher(registry, sessionMgr, stateStore, orchestrator)
	dispatcher.NetworkIdleTimeout = cfg.NetworkIdleWait

	var auditLogger *audit.Logger
	sinks := tools.MultiAuditSink{metrics.Sink{}}
	if cfg.AuditLoggingEnabled {
		auditLogger, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(tools.MultiAuditSink{auditLogger}, sinks...)
	}
	dispatcher.Audit = sinks

	authenticator := auth.New(auth.Config{
		Tunnel: auth.TunnelConfig{
			Enabled:        cfg.TunnelAuthEnabled,
			AllowedDomains: cfg.TunnelAllowedDomains,
		},
		JWT: auth.JWTConfig{
			Enabled:      cfg.EntraAuthEnabled,
			TenantID:     cfg.AzureTenantID,
			ClientID:     cfg.AzureClientID,
			ClientSecret: cfg.AzureClientSecret,
		},
		ManagedIdentity: auth.ManagedIdentityConfig{
			Enabled:     cfg.ManagedIdentityEnabled,
			KeyVaultURL: cfg.AzureKeyVaultURL,
		},
		SharedSecret: auth.SharedSecretConfig{
			Enabled: cfg.APIKeyAuthEnabled,
			Keys:    cfg.APIKeys,
		},
		AllowAnonymous: cfg.AllowAnonymousAccess,
		RequiredRoles:  cfg.RequiredRoles,
	})

	var oauthProxy *auth.OAuthProxy
	if cfg.EntraAuthEnabled && cfg.ServerBaseURL != "" {
		oauthProxy = auth.NewOAuthProxy(auth.OAuthProxyConfig{
			ServerBaseURL:  cfg.ServerBaseURL,
			UpstreamIssuer: fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", cfg.AzureTenantID),
			IdPClientID:    cfg.AzureClientID,
		})
	}

	server := transport.New(sessionMgr, dispatcher, authenticator, oauthProxy, cfg.MaxConcurrentSessions)
	server.CORSAllowedOrigins = cfg.AllowedOrigins
	server.RateLimitRPM = viper.GetInt("rate-limit-rpm")
	server.TrustProxy = cfg.TrustProxy
	server.RequestTimeout = viper.GetDuration("request-timeout")

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	peerMgr.Routes(mux)
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Str("address", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
	} else {
		mux.Handle("/metrics", metrics.Handler())
	}

	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	stopMemoryCollector := make(chan struct{})
	go metrics.StartMemoryCollector(15*time.Second, stopMemoryCollector)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := transport.Listen(transport.ListenConfig{Addr: addr, KillOwningProcess: true})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           mux,
		ReadTimeout:       cfg.DefaultRPCTimeout + 10*time.Second,
		WriteTimeout:      cfg.DefaultRPCTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_sessions", cfg.MaxConcurrentSessions).
			Bool("audit_logging", cfg.AuditLoggingEnabled).
			Msg("browserbrokerd is ready to accept requests")

		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("shutting down...")
	close(stopMemoryCollector)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := sessionMgr.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session manager close error")
	}
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			log.Error().Err(err).Msg("audit logger close error")
		}
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// newDriver builds the production go-rod driver unless --cdp-endpoint asks
// the broker to attach to an already-running Chrome (spec §6): CDP attach
// still goes through NewRodDriver, which treats a configured endpoint as a
// connect-only launcher (see internal/driver/rod.go).
func newDriver(cfg *config.Config) (driver.Driver, error) {
	return driver.NewRodDriver(driver.LaunchOptions{
		Headless:         cfg.Headless,
		BrowserPath:      cfg.BrowserPath,
		IgnoreCertErrors: cfg.IgnoreHTTPSErrors,
		WindowWidth:      cfg.ViewportWidth,
		WindowHeight:     cfg.ViewportHeight,
		UserDataDir:      cfg.UserDataDir,
		CDPEndpoint:      cfg.CDPEndpoint,
	})
}

func hostID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "broker-node"
	}
	return h
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func printBanner() {
	const banner = `
 _                                  _               _
| |__  _ __ _____      _____  ___ _| |__  _ __ ___ | | _____ _ __
| '_ \| '__/ _ \ \ /\ / / __|/ _ \ '_ \| '__/ _ \| |/ / _ \ '__|
| |_) | | | (_) \ V  V /\__ \  __/ |_) | | | (_) |   <  __/ |
|_.__/|_|  \___/ \_/\_/ |___/\___|_.__/|_|  \___/|_|\_\___|_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting browserbrokerd")
}
