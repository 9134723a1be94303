// Package config holds the broker's runtime configuration. Values are
// read from viper, which cmd/browserbrokerd layers as defaults < config
// file < environment < CLI flags — the same viper.Get* read-only-struct
// pattern the claude-ops command uses, generalized from that program's
// flat field list onto this broker's auth/session/crawl/audit groups.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Configuration upper bounds, preventing a misconfigured deployment from
// exhausting host resources.
const (
	maxMaxSessions  = 10000
	maxSessionTTL   = 24 * time.Hour
	maxRPCTimeout   = 10 * time.Minute
	minAPIKeyLength = 16
)

// Config holds every broker setting, grouped the way spec §6's env var
// table and CLI surface group them.
type Config struct {
	// Server
	Host string
	Port int

	// Browser launch (spec §6 CLI surface)
	BrowserPath          string
	Headless             bool
	UserDataDir          string
	Isolated             bool
	AllowedOrigins       []string
	BlockedOrigins       []string
	BlockServiceWorkers  bool
	ProxyServer          string
	ProxyBypass          string
	ViewportWidth        int
	ViewportHeight       int
	UserAgent            string
	Device               string
	IgnoreHTTPSErrors    bool
	StorageStatePath     string
	SaveTrace            bool
	OutputDir            string
	CDPEndpoint          string
	NoSandbox            bool

	// Session limits (spec §6: MAX_CONCURRENT_SESSIONS, SESSION_TIMEOUT_MS)
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	SessionSweepInterval  time.Duration

	// RPC
	DefaultRPCTimeout time.Duration
	NetworkIdleWait   time.Duration

	// Auth fan-in (spec §4.2 / §6)
	ServerBaseURL           string
	EntraAuthEnabled        bool
	AzureTenantID           string
	AzureClientID           string
	AzureClientSecret       string
	APIKeyAuthEnabled       bool
	APIKeys                 []string
	TunnelAuthEnabled       bool
	TunnelAllowedDomains    []string
	TrustProxy              bool
	ManagedIdentityEnabled  bool
	AzureKeyVaultURL        string
	AllowAnonymousAccess    bool
	RequiredRoles           []string

	// Audit (spec §6: AUDIT_LOGGING_ENABLED)
	AuditLoggingEnabled bool
	AuditDBPath         string

	// Crawl defaults (spec §4.6)
	CrawlRatePerSecond   int
	CrawlRateBurst       int
	CrawlDefaultTimeout  time.Duration
	CrawlScreenshotEvery int
	CrawlMaxStates       int
	CrawlGuardrailPolicy string

	// Peer-sync (spec §4.7)
	DataDir string

	// Telemetry
	MetricsAddr string
	LogLevel    string
}

// Key constants enumerate every viper key this package reads. Exported so
// cmd/browserbrokerd's cobra flag bindings reference the same identifiers
// Load does, instead of duplicating the string literals.
const (
	KeyHost                   = "host"
	KeyPort                   = "port"
	KeyBrowserPath            = "browser"
	KeyHeadless               = "headless"
	KeyUserDataDir            = "user-data-dir"
	KeyIsolated               = "isolated"
	KeyAllowedOrigins         = "allowed-origins"
	KeyBlockedOrigins         = "blocked-origins"
	KeyBlockServiceWorkers    = "block-service-workers"
	KeyProxyServer            = "proxy-server"
	KeyProxyBypass            = "proxy-bypass"
	KeyViewportSize           = "viewport-size"
	KeyUserAgent              = "user-agent"
	KeyDevice                 = "device"
	KeyIgnoreHTTPSErrors      = "ignore-https-errors"
	KeyStorageState           = "storage-state"
	KeySaveTrace              = "save-trace"
	KeyOutputDir              = "output-dir"
	KeyCDPEndpoint            = "cdp-endpoint"
	KeyNoSandbox              = "no-sandbox"
	KeyMaxConcurrentSessions  = "max-concurrent-sessions"
	KeySessionTimeoutMS       = "session-timeout-ms"
	KeySessionSweepInterval   = "session-sweep-interval"
	KeyDefaultRPCTimeout      = "default-rpc-timeout"
	KeyNetworkIdleWait        = "network-idle-wait"
	KeyServerBaseURL          = "server-base-url"
	KeyEntraAuthEnabled       = "entra-auth-enabled"
	KeyAzureTenantID          = "azure-tenant-id"
	KeyAzureClientID          = "azure-client-id"
	KeyAzureClientSecret      = "azure-client-secret"
	KeyAPIKeyAuthEnabled      = "api-key-auth-enabled"
	KeyAPIKeys                = "api-keys"
	KeyTunnelAuthEnabled      = "tunnel-auth-enabled"
	KeyTunnelAllowedDomains   = "tunnel-allowed-domains"
	KeyTrustProxy             = "trust-proxy"
	KeyManagedIdentityEnabled = "managed-identity-enabled"
	KeyAzureKeyVaultURL       = "azure-key-vault-url"
	KeyAllowAnonymousAccess   = "allow-anonymous-access"
	KeyRequiredRoles          = "required-roles"
	KeyAuditLoggingEnabled    = "audit-logging-enabled"
	KeyAuditDBPath            = "audit-db-path"
	KeyCrawlRatePerSecond     = "crawl-rate-per-second"
	KeyCrawlRateBurst         = "crawl-rate-burst"
	KeyCrawlDefaultTimeout    = "crawl-default-timeout"
	KeyCrawlScreenshotEvery   = "crawl-screenshot-every"
	KeyCrawlMaxStates         = "crawl-max-states"
	KeyCrawlGuardrailPolicy   = "crawl-guardrail-policy"
	KeyDataDir                = "data-dir"
	KeyMetricsAddr            = "metrics-addr"
	KeyLogLevel               = "log-level"
)

// Load reads every setting off the already-initialized global viper
// instance (populated by cmd/browserbrokerd's cobra flags, env vars under
// the BROKER_ prefix, and an optional config file).
func Load() *Config {
	w, h := parseViewportSize(viper.GetString(KeyViewportSize))
	return &Config{
		Host: viper.GetString(KeyHost),
		Port: viper.GetInt(KeyPort),

		BrowserPath:         viper.GetString(KeyBrowserPath),
		Headless:            viper.GetBool(KeyHeadless),
		UserDataDir:         viper.GetString(KeyUserDataDir),
		Isolated:            viper.GetBool(KeyIsolated),
		AllowedOrigins:      splitCSV(viper.GetString(KeyAllowedOrigins)),
		BlockedOrigins:      splitCSV(viper.GetString(KeyBlockedOrigins)),
		BlockServiceWorkers: viper.GetBool(KeyBlockServiceWorkers),
		ProxyServer:         viper.GetString(KeyProxyServer),
		ProxyBypass:         viper.GetString(KeyProxyBypass),
		ViewportWidth:       w,
		ViewportHeight:      h,
		UserAgent:           viper.GetString(KeyUserAgent),
		Device:              viper.GetString(KeyDevice),
		IgnoreHTTPSErrors:   viper.GetBool(KeyIgnoreHTTPSErrors),
		StorageStatePath:    viper.GetString(KeyStorageState),
		SaveTrace:           viper.GetBool(KeySaveTrace),
		OutputDir:           viper.GetString(KeyOutputDir),
		CDPEndpoint:         viper.GetString(KeyCDPEndpoint),
		NoSandbox:           viper.GetBool(KeyNoSandbox),

		MaxConcurrentSessions: viper.GetInt(KeyMaxConcurrentSessions),
		SessionTimeout:        time.Duration(viper.GetInt64(KeySessionTimeoutMS)) * time.Millisecond,
		SessionSweepInterval:  viper.GetDuration(KeySessionSweepInterval),

		DefaultRPCTimeout: viper.GetDuration(KeyDefaultRPCTimeout),
		NetworkIdleWait:   viper.GetDuration(KeyNetworkIdleWait),

		ServerBaseURL:          viper.GetString(KeyServerBaseURL),
		EntraAuthEnabled:       viper.GetBool(KeyEntraAuthEnabled),
		AzureTenantID:          viper.GetString(KeyAzureTenantID),
		AzureClientID:          viper.GetString(KeyAzureClientID),
		AzureClientSecret:      viper.GetString(KeyAzureClientSecret),
		APIKeyAuthEnabled:      viper.GetBool(KeyAPIKeyAuthEnabled),
		APIKeys:                splitCSV(viper.GetString(KeyAPIKeys)),
		TunnelAuthEnabled:      viper.GetBool(KeyTunnelAuthEnabled),
		TunnelAllowedDomains:   splitCSV(viper.GetString(KeyTunnelAllowedDomains)),
		TrustProxy:             viper.GetBool(KeyTrustProxy),
		ManagedIdentityEnabled: viper.GetBool(KeyManagedIdentityEnabled),
		AzureKeyVaultURL:       viper.GetString(KeyAzureKeyVaultURL),
		AllowAnonymousAccess:   viper.GetBool(KeyAllowAnonymousAccess),
		RequiredRoles:          splitCSV(viper.GetString(KeyRequiredRoles)),

		AuditLoggingEnabled: viper.GetBool(KeyAuditLoggingEnabled),
		AuditDBPath:         viper.GetString(KeyAuditDBPath),

		CrawlRatePerSecond:   viper.GetInt(KeyCrawlRatePerSecond),
		CrawlRateBurst:       viper.GetInt(KeyCrawlRateBurst),
		CrawlDefaultTimeout:  viper.GetDuration(KeyCrawlDefaultTimeout),
		CrawlScreenshotEvery: viper.GetInt(KeyCrawlScreenshotEvery),
		CrawlMaxStates:       viper.GetInt(KeyCrawlMaxStates),
		CrawlGuardrailPolicy: viper.GetString(KeyCrawlGuardrailPolicy),

		DataDir: viper.GetString(KeyDataDir),

		MetricsAddr: viper.GetString(KeyMetricsAddr),
		LogLevel:    viper.GetString(KeyLogLevel),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseViewportSize(raw string) (width, height int) {
	if raw == "" {
		return 1280, 720
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		log.Warn().Str("viewport-size", raw).Msg("config: malformed viewport-size, expected \"W,H\", using default")
		return 1280, 720
	}
	w, wErr := atoiOrZero(strings.TrimSpace(parts[0]))
	h, hErr := atoiOrZero(strings.TrimSpace(parts[1]))
	if wErr || hErr || w <= 0 || h <= 0 {
		log.Warn().Str("viewport-size", raw).Msg("config: invalid viewport-size, using default")
		return 1280, 720
	}
	return w, h
}

func atoiOrZero(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, true
		}
		n = n*10 + int(r-'0')
	}
	return n, false
}

// HasDefaultProxy reports whether a proxy server was configured.
func (c *Config) HasDefaultProxy() bool { return c.ProxyServer != "" }

// Validate checks configuration values and clamps or warns on invalid
// ones, following the teacher's "clamp and log, never panic on bad
// config" discipline.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("config: invalid port, using default 8931")
		c.Port = 8931
	}

	if c.MaxConcurrentSessions < 1 {
		log.Warn().Int("max_concurrent_sessions", c.MaxConcurrentSessions).Msg("config: invalid session limit, using 100")
		c.MaxConcurrentSessions = 100
	} else if c.MaxConcurrentSessions > maxMaxSessions {
		log.Warn().Int("max_concurrent_sessions", c.MaxConcurrentSessions).Msg("config: session limit too high, capping")
		c.MaxConcurrentSessions = maxMaxSessions
	}

	if c.SessionTimeout < time.Second {
		log.Warn().Dur("session_timeout", c.SessionTimeout).Msg("config: session timeout too short, using 30m")
		c.SessionTimeout = 30 * time.Minute
	} else if c.SessionTimeout > maxSessionTTL {
		log.Warn().Dur("session_timeout", c.SessionTimeout).Msg("config: session timeout too long, capping")
		c.SessionTimeout = maxSessionTTL
	}
	if c.SessionSweepInterval < time.Second {
		c.SessionSweepInterval = time.Minute
	}

	if c.DefaultRPCTimeout <= 0 {
		c.DefaultRPCTimeout = 60 * time.Second
	} else if c.DefaultRPCTimeout > maxRPCTimeout {
		log.Warn().Dur("default_rpc_timeout", c.DefaultRPCTimeout).Msg("config: rpc timeout too long, capping")
		c.DefaultRPCTimeout = maxRPCTimeout
	}
	if c.NetworkIdleWait <= 0 {
		c.NetworkIdleWait = 30 * time.Second
	}

	if c.EntraAuthEnabled && (c.AzureTenantID == "" || c.AzureClientID == "") {
		log.Error().Msg("config: ENTRA_AUTH_ENABLED is true but AZURE_TENANT_ID/AZURE_CLIENT_ID are unset; bearer auth will reject every request")
	}
	if c.APIKeyAuthEnabled {
		for _, k := range c.APIKeys {
			if len(k) < minAPIKeyLength {
				log.Warn().Int("length", len(k)).Int("min_required", minAPIKeyLength).Msg("config: an API key is shorter than the recommended minimum")
			}
		}
		if len(c.APIKeys) == 0 {
			log.Error().Msg("config: API_KEY_AUTH_ENABLED is true but API_KEYS is empty; shared-secret auth will reject every request")
		}
	}
	if c.TunnelAuthEnabled && len(c.TunnelAllowedDomains) == 0 {
		log.Warn().Msg("config: TUNNEL_AUTH_ENABLED is true but TUNNEL_ALLOWED_DOMAINS is empty; no host will match")
	}
	if !c.EntraAuthEnabled && !c.APIKeyAuthEnabled && !c.TunnelAuthEnabled && !c.ManagedIdentityEnabled && !c.AllowAnonymousAccess {
		log.Warn().Msg("config: no auth method enabled and ALLOW_ANONYMOUS_ACCESS is false; every request will be rejected")
	}

	if c.CrawlRatePerSecond < 1 {
		c.CrawlRatePerSecond = 2
	}
	if c.CrawlRateBurst < 1 {
		c.CrawlRateBurst = 5
	}
	if c.CrawlDefaultTimeout <= 0 {
		c.CrawlDefaultTimeout = 10 * time.Minute
	}
	if c.CrawlMaxStates < 1 {
		c.CrawlMaxStates = 5000
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.OutputDir == "" {
		c.OutputDir = c.DataDir + "/reports"
	}
	if c.AuditDBPath == "" {
		c.AuditDBPath = c.DataDir + "/audit.db"
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("config: invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.IgnoreHTTPSErrors {
		log.Warn().Msg("config: IGNORE_HTTPS_ERRORS enabled — exposes navigation to MITM risk")
	}
}
