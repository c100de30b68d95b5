package crawler

import (
	"context"
	stderrors "errors"
	mathrand "math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/pkg/errors"
)

// fakeBrowser records calls and can fail at a chosen step
type fakeBrowser struct {
	locations    map[string]string
	heights      []int64
	html         string
	failScrollAt int

	navigated   []string
	current     string
	scrolls     int
	heightReads int
	closed      int
}

func (b *fakeBrowser) Navigate(url string) error {
	b.navigated = append(b.navigated, url)
	b.current = url
	if loc, ok := b.locations[url]; ok {
		b.current = loc
	}
	return nil
}

func (b *fakeBrowser) Location() (string, error) {
	return b.current, nil
}

func (b *fakeBrowser) ScrollBy(px int) error {
	b.scrolls++
	if b.failScrollAt > 0 && b.scrolls == b.failScrollAt {
		return stderrors.New("target closed")
	}
	return nil
}

func (b *fakeBrowser) ScrollHeight() (int64, error) {
	i := b.heightReads
	b.heightReads++
	if len(b.heights) == 0 {
		return 1000, nil
	}
	if i >= len(b.heights) {
		return b.heights[len(b.heights)-1], nil
	}
	return b.heights[i], nil
}

func (b *fakeBrowser) HTML() (string, error) {
	return b.html, nil
}

func (b *fakeBrowser) Close() error {
	b.closed++
	return nil
}

type fakeLauncher struct {
	browser  *fakeBrowser
	err      error
	launches int
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func browserOptions(urls ...string) BrowserStrategyOptions {
	builders := make([]URLBuilder, 0, len(urls))
	for _, u := range urls {
		u := u
		builders = append(builders, func(SearchSpec) string { return u })
	}
	return BrowserStrategyOptions{
		URLs:             builders,
		SettleDelay:      15 * time.Second,
		ScrollIterations: 5,
		ScrollMinDelay:   2 * time.Second,
		ScrollMaxDelay:   4 * time.Second,
		LoginMarkers:     []string{"login", "checkpoint"},
		Sleep:            noSleep,
		Rand:             mathrand.New(mathrand.NewSource(7)),
	}
}

func TestBrowserStrategyRendersAndReleases(t *testing.T) {
	browser := &fakeBrowser{html: "<html>listings</html>", heights: []int64{1000, 2000, 3000, 3000}}
	launcher := &fakeLauncher{browser: browser}
	reporter := helpers.NewChannelReporter(32)

	opts := browserOptions("https://m.example.com/a")
	opts.Reporter = reporter
	strategy := NewBrowserAutomationStrategy(launcher, opts)

	payload, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.NoError(t, err)
	assert.Equal(t, "<html>listings</html>", string(payload.Body))
	assert.Equal(t, KindBrowser, payload.TransportKind)
	assert.Equal(t, "https://m.example.com/a", payload.FinalURL)

	// Height grows twice, then stays flat; scrolling stops at the third pass
	assert.Equal(t, 3, browser.scrolls)
	assert.Equal(t, 1, browser.closed)
	assert.Equal(t, 1, launcher.launches)
	assert.Contains(t, <-reporter.Lines(), "Attempting URL 1/1")
}

func TestBrowserStrategyScrollIsBounded(t *testing.T) {
	browser := &fakeBrowser{heights: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	strategy := NewBrowserAutomationStrategy(&fakeLauncher{browser: browser}, browserOptions("https://example.com/a"))

	_, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, browser.scrolls)
	assert.Equal(t, 1, browser.closed)
}

func TestBrowserStrategyClosesOnceWhenScrollFails(t *testing.T) {
	browser := &fakeBrowser{heights: []int64{1, 2, 3, 4}, failScrollAt: 2}
	strategy := NewBrowserAutomationStrategy(&fakeLauncher{browser: browser}, browserOptions("https://example.com/a"))

	_, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeTransport))
	assert.Contains(t, err.Error(), "iteration 2")
	assert.Equal(t, 1, browser.closed)
}

func TestBrowserStrategyFallsBackAcrossURLs(t *testing.T) {
	browser := &fakeBrowser{
		html: "<html/>",
		locations: map[string]string{
			"https://example.com/a": "https://example.com/login/?next=a",
		},
	}
	reporter := helpers.NewChannelReporter(32)
	opts := browserOptions("https://example.com/a", "https://example.com/b")
	opts.Reporter = reporter
	strategy := NewBrowserAutomationStrategy(&fakeLauncher{browser: browser}, opts)

	payload, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b", payload.FinalURL)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, browser.navigated)

	lines := []string{}
	for len(reporter.Lines()) > 0 {
		lines = append(lines, <-reporter.Lines())
	}
	assert.Contains(t, lines, "Login redirect detected at https://example.com/login/?next=a")
}

func TestBrowserStrategyBlockedWhenEveryURLIsWalled(t *testing.T) {
	browser := &fakeBrowser{
		locations: map[string]string{
			"https://example.com/a": "https://example.com/login/",
			"https://example.com/b": "https://example.com/checkpoint/1",
		},
	}
	strategy := NewBrowserAutomationStrategy(&fakeLauncher{browser: browser}, browserOptions("https://example.com/a", "https://example.com/b"))

	_, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeBlocked))
	assert.Equal(t, 0, browser.scrolls)
	assert.Equal(t, 1, browser.closed)
}

func TestBrowserStrategyLaunchFailureIsAcquisition(t *testing.T) {
	launcher := &fakeLauncher{err: stderrors.New("chrome not found")}
	strategy := NewBrowserAutomationStrategy(launcher, browserOptions("https://example.com/a"))

	_, err := strategy.Fetch(context.Background(), testSpec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeAcquisition))
}

func TestBrowserStrategyLeavesSessionBrowserOpen(t *testing.T) {
	shared := &fakeBrowser{html: "<html/>"}
	launcher := &fakeLauncher{browser: &fakeBrowser{}}
	strategy := NewBrowserAutomationStrategy(launcher, browserOptions("https://example.com/a"))

	_, err := strategy.Fetch(context.Background(), testSpec, &Session{Browser: shared})
	require.NoError(t, err)
	assert.Equal(t, 0, shared.closed)
	assert.Equal(t, 0, launcher.launches)
}

func TestBrowserStrategyCancelledContextReleases(t *testing.T) {
	browser := &fakeBrowser{}
	strategy := NewBrowserAutomationStrategy(&fakeLauncher{browser: browser}, browserOptions("https://example.com/a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := strategy.Fetch(ctx, testSpec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeTransport))
	assert.Equal(t, 1, browser.closed)
}

func TestDefaultSearchURLs(t *testing.T) {
	urls := DefaultSearchURLs("https://www.facebook.com", "/marketplace/{location}/search/")
	require.Len(t, urls, 3)

	assert.Equal(t, "https://www.facebook.com/marketplace/austin/search/?exact=true&maxPrice=900&minPrice=100&query=road+bike", urls[0](testSpec))
	assert.Equal(t, "https://www.facebook.com/marketplace/search/?exact=true&maxPrice=900&minPrice=100&query=road+bike&region_id=austin", urls[1](testSpec))
	assert.Equal(t, "https://m.facebook.com/marketplace/austin/search/?query=road+bike", urls[2](testSpec))
}

func TestBrowserJitterWithinBounds(t *testing.T) {
	strategy := NewBrowserAutomationStrategy(nil, browserOptions())
	for i := 0; i < 100; i++ {
		distance, delay := strategy.jitter()
		assert.GreaterOrEqual(t, distance, 300)
		assert.LessOrEqual(t, distance, 800)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
		assert.Less(t, delay, 4*time.Second)
	}
}

func TestDefaultBrowserOptionsUseCommandLineSwitches(t *testing.T) {
	opts := DefaultBrowserOptions(true, "Mozilla/5.0")
	switchName := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	for name := range opts.Flags {
		assert.Regexp(t, switchName, name)
	}
	assert.Equal(t, false, opts.Flags["enable-automation"])
	assert.Equal(t, "AutomationControlled", opts.Flags["disable-blink-features"])
}
