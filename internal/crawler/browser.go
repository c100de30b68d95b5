package crawler

import (
	"context"
	mathrand "math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// URLBuilder produces one candidate search URL
type URLBuilder func(spec SearchSpec) string

// BrowserStrategyOptions configures a BrowserAutomationStrategy
type BrowserStrategyOptions struct {
	URLs             []URLBuilder
	SettleDelay      time.Duration
	ScrollIterations int
	ScrollMinPx      int
	ScrollMaxPx      int
	ScrollMinDelay   time.Duration
	ScrollMaxDelay   time.Duration
	AttemptTimeout   time.Duration
	LoginMarkers     []string
	Reporter         helpers.Reporter

	// Sleep and Rand are replaceable for tests
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *mathrand.Rand
}

// BrowserAutomationStrategy renders the search in a real browser, scrolls to
// trigger lazy loading and returns the rendered markup
type BrowserAutomationStrategy struct {
	launcher BrowserLauncher
	opts     BrowserStrategyOptions

	mu sync.Mutex
}

// NewBrowserAutomationStrategy creates a browser strategy
func NewBrowserAutomationStrategy(launcher BrowserLauncher, opts BrowserStrategyOptions) *BrowserAutomationStrategy {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Rand == nil {
		opts.Rand = helpers.NewRand()
	}
	if opts.ScrollMinPx <= 0 {
		opts.ScrollMinPx = 300
	}
	if opts.ScrollMaxPx < opts.ScrollMinPx {
		opts.ScrollMaxPx = opts.ScrollMinPx + 500
	}
	if opts.ScrollMaxDelay < opts.ScrollMinDelay {
		opts.ScrollMaxDelay = opts.ScrollMinDelay
	}
	return &BrowserAutomationStrategy{launcher: launcher, opts: opts}
}

// Name returns the transport name
func (s *BrowserAutomationStrategy) Name() string {
	return "browser"
}

// Kind returns KindBrowser
func (s *BrowserAutomationStrategy) Kind() TransportKind {
	return KindBrowser
}

// Fetch renders the first candidate URL that does not land on an
// authentication wall. A browser launched here is closed exactly once on
// every path; a session browser is left open.
func (s *BrowserAutomationStrategy) Fetch(ctx context.Context, spec SearchSpec, session *Session) (*RawPayload, error) {
	log := logger.ForTransport(s.Name())

	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
	}

	var browser Browser
	if session != nil && session.Browser != nil {
		browser = session.Browser
	} else {
		if s.launcher == nil {
			return nil, errors.NewAcquisition(s.Name(), "no browser launcher configured", nil)
		}
		launched, err := s.launcher.Launch(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrorTypeAcquisition) {
				return nil, err
			}
			return nil, errors.NewAcquisition(s.Name(), "failed to launch browser", err)
		}
		browser = launched
		defer func() {
			if closeErr := browser.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Failed to close browser")
			}
		}()
	}

	landed, err := s.navigate(ctx, browser, spec)
	if err != nil {
		return nil, err
	}

	if err := s.scroll(ctx, browser); err != nil {
		return nil, err
	}

	html, err := browser.HTML()
	if err != nil {
		return nil, errors.NewTransport(s.Name(), "failed to read rendered markup", err)
	}

	log.Debug().Str("url", landed).Int("bytes", len(html)).Msg("Rendered payload")
	return &RawPayload{
		Body:          []byte(html),
		ContentType:   "text/html; charset=utf-8",
		FinalURL:      landed,
		TransportKind: KindBrowser,
	}, nil
}

func (s *BrowserAutomationStrategy) navigate(ctx context.Context, browser Browser, spec SearchSpec) (string, error) {
	if len(s.opts.URLs) == 0 {
		return "", errors.NewTransport(s.Name(), "no search URLs configured", nil)
	}

	walled := ""
	for i, build := range s.opts.URLs {
		target := build(spec)
		report(s.opts.Reporter, "Attempting URL %d/%d: %s", i+1, len(s.opts.URLs), target)

		if err := browser.Navigate(target); err != nil {
			return "", errors.NewTransport(s.Name(), "navigation to "+target+" failed", err)
		}
		if err := s.opts.Sleep(ctx, s.opts.SettleDelay); err != nil {
			return "", errors.NewTransport(s.Name(), "settle wait interrupted", err)
		}

		location, err := browser.Location()
		if err != nil {
			return "", errors.NewTransport(s.Name(), "failed to read location", err)
		}
		if IsAuthWall(location, s.opts.LoginMarkers) {
			report(s.opts.Reporter, "Login redirect detected at %s", location)
			walled = location
			continue
		}
		return location, nil
	}
	return "", errors.NewBlocked(s.Name(), walled)
}

// scroll stops early once the page height stops growing
func (s *BrowserAutomationStrategy) scroll(ctx context.Context, browser Browser) error {
	if s.opts.ScrollIterations <= 0 {
		return nil
	}

	last, err := browser.ScrollHeight()
	if err != nil {
		return errors.NewTransport(s.Name(), "failed to read scroll height", err)
	}

	for i := 1; i <= s.opts.ScrollIterations; i++ {
		distance, delay := s.jitter()
		if err := browser.ScrollBy(distance); err != nil {
			return errors.NewTransport(s.Name(), "scroll failed at iteration "+strconv.Itoa(i), err)
		}
		report(s.opts.Reporter, "Scroll iteration %d/%d", i, s.opts.ScrollIterations)

		if err := s.opts.Sleep(ctx, delay); err != nil {
			return errors.NewTransport(s.Name(), "scroll wait interrupted", err)
		}

		height, err := browser.ScrollHeight()
		if err != nil {
			return errors.NewTransport(s.Name(), "failed to read scroll height", err)
		}
		if height == last {
			break
		}
		last = height
	}
	return nil
}

func (s *BrowserAutomationStrategy) jitter() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	distance := s.opts.ScrollMinPx + s.opts.Rand.Intn(s.opts.ScrollMaxPx-s.opts.ScrollMinPx+1)
	delay := s.opts.ScrollMinDelay
	if span := s.opts.ScrollMaxDelay - s.opts.ScrollMinDelay; span > 0 {
		delay += time.Duration(s.opts.Rand.Int63n(int64(span)))
	}
	return distance, delay
}

// DefaultSearchURLs returns the candidate URL shapes tried in order: the
// location path, the region query parameter, and the mobile host
func DefaultSearchURLs(origin, pathTemplate string) []URLBuilder {
	origin = strings.TrimRight(origin, "/")
	mobile := mobileOrigin(origin)

	return []URLBuilder{
		func(spec SearchSpec) string {
			return SearchURL(origin, pathTemplate, spec)
		},
		func(spec SearchSpec) string {
			query := url.Values{}
			query.Set("query", spec.ProductQuery)
			query.Set("region_id", spec.LocationCode)
			query.Set("exact", strconv.FormatBool(spec.MatchMode == MatchExact))
			query.Set("minPrice", strconv.Itoa(spec.MinPrice))
			query.Set("maxPrice", strconv.Itoa(spec.MaxPrice))
			return origin + "/marketplace/search/?" + query.Encode()
		},
		func(spec SearchSpec) string {
			query := url.Values{}
			query.Set("query", spec.ProductQuery)
			return mobile + "/marketplace/" + url.PathEscape(spec.LocationCode) + "/search/?" + query.Encode()
		},
	}
}

func mobileOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	if strings.HasPrefix(u.Host, "www.") {
		u.Host = "m." + strings.TrimPrefix(u.Host, "www.")
	}
	return strings.TrimRight(u.String(), "/")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
