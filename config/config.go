package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sjsage522/marketworker/pkg/errors"
)

// Transport names accepted in TRANSPORT_ORDER
const (
	TransportDirectGet  = "direct-get"
	TransportDirectPost = "direct-post"
	TransportBrowser    = "browser"
)

// Locator names accepted in TRANSPORT_ORDER
const (
	LocatorMarkup     = "markup"
	LocatorScriptJSON = "script-json"
	LocatorGraphQL    = "graphql"
	LocatorTextScan   = "text-scan"
)

// DefaultTransportOrder is the default ordered list of (transport, locator) pairings
const DefaultTransportOrder = "direct-get:script-json,direct-post:graphql,browser:markup,browser:script-json,browser:text-scan"

// Config represents the application configuration
type Config struct {
	// Extraction
	TransportOrder     string
	SettleDelay        time.Duration
	ScrollIterations   int
	ScrollMinDelay     time.Duration
	ScrollMaxDelay     time.Duration
	RequestTimeout     time.Duration
	UserAgent          string
	MarketplaceOrigin  string
	SearchPathTemplate string
	GraphQLEndpoint    string
	GraphQLDocID       string
	LoginMarkers       []string
	ErrorSnippetBytes  int
	RequestsPerMinute  int
	CloudflareBypass   bool
	SpecPause          time.Duration

	// Browser
	ChromeRemoteURL string
	ChromeHeadless  bool

	// Memcache configuration
	MemcacheAddr string
	// BlockCooldown parks a walled transport across searches. Zero disables it.
	BlockCooldown time.Duration

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int

	// Postgres configuration
	PostgresDSN string

	// Files
	OutputPath      string
	SearchesFile    string
	DiagnosticsFile string

	// Environment
	Environment string
}

// PairingSpec names one (transport, locator) pairing
type PairingSpec struct {
	Transport string
	Locator   string
}

// String returns the pairing in transport:locator form
func (p PairingSpec) String() string {
	return p.Transport + ":" + p.Locator
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	settle, _ := strconv.Atoi(getEnv("SETTLE_DELAY_SECONDS", "15"))
	scrollIterations, _ := strconv.Atoi(getEnv("SCROLL_ITERATIONS", "5"))
	scrollMin, _ := strconv.Atoi(getEnv("SCROLL_MIN_DELAY_MS", "2000"))
	scrollMax, _ := strconv.Atoi(getEnv("SCROLL_MAX_DELAY_MS", "4000"))
	requestTimeout, _ := strconv.Atoi(getEnv("REQUEST_TIMEOUT_SECONDS", "30"))
	snippet, _ := strconv.Atoi(getEnv("ERROR_SNIPPET_BYTES", "512"))
	rpm, _ := strconv.Atoi(getEnv("REQUESTS_PER_MINUTE", "20"))
	specPause, _ := strconv.Atoi(getEnv("SPEC_PAUSE_SECONDS", "0"))
	cooldown, _ := strconv.Atoi(getEnv("BLOCK_COOLDOWN_SECONDS", "0"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLength, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))

	return &Config{
		TransportOrder:       getEnv("TRANSPORT_ORDER", DefaultTransportOrder),
		SettleDelay:          time.Duration(settle) * time.Second,
		ScrollIterations:     scrollIterations,
		ScrollMinDelay:       time.Duration(scrollMin) * time.Millisecond,
		ScrollMaxDelay:       time.Duration(scrollMax) * time.Millisecond,
		RequestTimeout:       time.Duration(requestTimeout) * time.Second,
		UserAgent:            getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		MarketplaceOrigin:    strings.TrimRight(getEnv("MARKETPLACE_ORIGIN", "https://www.facebook.com"), "/"),
		SearchPathTemplate:   getEnv("SEARCH_PATH_TEMPLATE", "/marketplace/{location}/search/"),
		GraphQLEndpoint:      getEnv("GRAPHQL_ENDPOINT", "/api/graphql/"),
		GraphQLDocID:         getEnv("GRAPHQL_DOC_ID", ""),
		LoginMarkers:         splitList(getEnv("LOGIN_MARKERS", "login,checkpoint")),
		ErrorSnippetBytes:    snippet,
		RequestsPerMinute:    rpm,
		CloudflareBypass:     getBool("CLOUDFLARE_BYPASS", false),
		SpecPause:            time.Duration(specPause) * time.Second,
		ChromeRemoteURL:      getEnv("CHROME_REMOTE_URL", ""),
		ChromeHeadless:       getBool("CHROME_HEADLESS", true),
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", ""),
		BlockCooldown:        time.Duration(cooldown) * time.Second,
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "listings"),
		RedisStreamMaxLength: streamMaxLength,
		PostgresDSN:          getEnv("POSTGRES_DSN", ""),
		OutputPath:           getEnv("OUTPUT_PATH", "scraped_results.zip"),
		SearchesFile:         getEnv("SEARCHES_FILE", "searches.json5"),
		DiagnosticsFile:      getEnv("DIAGNOSTICS_FILE", ""),
		Environment:          getEnv("MARKET_ENVIRONMENT", "development"),
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if _, err := c.Pairings(); err != nil {
		return err
	}
	if c.ScrollIterations < 0 {
		return errors.NewConfiguration(fmt.Sprintf("SCROLL_ITERATIONS must not be negative, got %d", c.ScrollIterations), nil)
	}
	if c.ScrollMinDelay > c.ScrollMaxDelay {
		return errors.NewConfiguration("SCROLL_MIN_DELAY_MS must not exceed SCROLL_MAX_DELAY_MS", nil)
	}
	if c.RequestTimeout <= 0 {
		return errors.NewConfiguration("REQUEST_TIMEOUT_SECONDS must be positive", nil)
	}
	if c.RequestsPerMinute < 0 {
		return errors.NewConfiguration("REQUESTS_PER_MINUTE must not be negative", nil)
	}
	if !strings.HasPrefix(c.MarketplaceOrigin, "http://") && !strings.HasPrefix(c.MarketplaceOrigin, "https://") {
		return errors.NewConfiguration(fmt.Sprintf("MARKETPLACE_ORIGIN must be an absolute URL, got %q", c.MarketplaceOrigin), nil)
	}
	return nil
}

// Pairings parses TransportOrder into an ordered pairing list
func (c *Config) Pairings() ([]PairingSpec, error) {
	entries := splitList(c.TransportOrder)
	if len(entries) == 0 {
		return nil, errors.NewConfiguration("TRANSPORT_ORDER is empty", nil)
	}

	pairings := make([]PairingSpec, 0, len(entries))
	for _, entry := range entries {
		transport, locator, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.NewConfiguration(fmt.Sprintf("pairing %q is not in transport:locator form", entry), nil)
		}
		switch transport {
		case TransportDirectGet, TransportDirectPost, TransportBrowser:
		default:
			return nil, errors.NewConfiguration(fmt.Sprintf("unknown transport %q", transport), nil)
		}
		switch locator {
		case LocatorMarkup, LocatorScriptJSON, LocatorGraphQL, LocatorTextScan:
		default:
			return nil, errors.NewConfiguration(fmt.Sprintf("unknown locator %q", locator), nil)
		}
		pairings = append(pairings, PairingSpec{Transport: transport, Locator: locator})
	}
	return pairings, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
