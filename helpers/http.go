package helpers

import (
	"bytes"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"slices"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Header pools for browser-like requests
var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}

	referers = []string{
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
	}
)

// NewRand returns a random source seeded from the clock
func NewRand() *mathrand.Rand {
	return mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
}

// BrowserHeaders returns a browser-like header set. When userAgent is empty
// one is picked from the pool.
func BrowserHeaders(userAgent string, rnd *mathrand.Rand) map[string]string {
	if rnd == nil {
		rnd = NewRand()
	}
	if userAgent == "" {
		userAgent = userAgents[rnd.Intn(len(userAgents))]
	}

	return map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Referer":                   referers[rnd.Intn(len(referers))],
		"Upgrade-Insecure-Requests": "1",
		"Sec-Ch-Ua":                 "\"Chromium\";v=\"120\", \"Not:A-Brand\";v=\"24\", \"Google Chrome\";v=\"120\"",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "cross-site",
		"Sec-Fetch-User":            "?1",
	}
}

// IsRateLimited reports whether the status code signals throttling
func IsRateLimited(status int) bool {
	return slices.Contains([]int{http.StatusTooManyRequests, 430}, status)
}

// DecodeBody converts body to UTF-8 using the Content-Type header and body sniffing
func DecodeBody(body []byte, contentType string) ([]byte, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)

	// If already UTF-8, return as is
	if name == "utf-8" || name == "UTF-8" {
		return body, nil
	}

	utf8Reader := encoding.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return nil, fmt.Errorf("failed to read converted UTF-8 body: %w", err)
	}
	return buf.Bytes(), nil
}

// Snippet returns at most n bytes of body without splitting a rune
func Snippet(body []byte, n int) string {
	if n <= 0 || len(body) <= n {
		return string(body)
	}
	cut := body[:n]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut)
}
