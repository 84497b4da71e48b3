// Package proxyconfig centralizes the environment-derived configuration
// for the rewrite-and-relay proxy: listener binding, upstream SOCKS5
// credentials, session lifetime, and the target site shown on the
// landing page. Loading a .env file before the process starts is external
// collaborator glue and is not this package's concern.
package proxyconfig

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of recognized environment variables (spec.md §6).
type Config struct {
	Host string
	Port string

	TargetSite string

	UseProxy       bool
	ProxyHost      string
	ProxyPort      string
	ProxyProtocol  string
	ProxyBaseUser  string
	ProxyPassword  string
	ProxyZone      string
	ProxyRegion    string
	ProxySessTime  int // minutes
	SessionTTL     time.Duration
	SessionCookie  string
	ProductionMode bool
}

const (
	defaultPort          = "8080"
	defaultSessionTTLMin = 30
	defaultSessionCookie = "proxy_session"
	defaultProxySessTime = 120
)

// Load reads Config from the process environment, applying the same
// defaults the teacher's DefaultConfig used for OMS serving options.
func Load() Config {
	cfg := Config{
		Host:          strings.TrimSpace(os.Getenv("HOST")),
		Port:          firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		TargetSite:    strings.TrimSpace(os.Getenv("TARGET_SITE")),
		ProxyHost:     strings.TrimSpace(os.Getenv("PROXY_HOST")),
		ProxyPort:     strings.TrimSpace(os.Getenv("PROXY_PORT")),
		ProxyProtocol: firstNonEmpty(strings.TrimSpace(os.Getenv("PROXY_PROTOCOL")), "socks5"),
		ProxyBaseUser: strings.TrimSpace(os.Getenv("PROXY_BASE_USER")),
		ProxyPassword: os.Getenv("PROXY_PASSWORD"),
		ProxyZone:     strings.TrimSpace(os.Getenv("PROXY_ZONE")),
		ProxyRegion:   strings.TrimSpace(os.Getenv("PROXY_REGION")),
		SessionCookie: firstNonEmpty(strings.TrimSpace(os.Getenv("SESSION_COOKIE_NAME")), defaultSessionCookie),
	}
	cfg.UseProxy = parseBool(os.Getenv("USE_PROXY"), true)
	cfg.ProxySessTime = parseInt(os.Getenv("PROXY_SESSION_TIME"), defaultProxySessTime)
	cfg.SessionTTL = time.Duration(parseInt(os.Getenv("SESSION_TTL_MINUTES"), defaultSessionTTLMin)) * time.Minute
	env := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_ENV")))
	cfg.ProductionMode = env == "production" || env == "prod"
	return cfg
}

// Addr returns the listener address, e.g. ":8080" or "0.0.0.0:8080".
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string, def bool) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseInt(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
