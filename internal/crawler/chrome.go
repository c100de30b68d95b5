package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"sjsage522/marketworker/pkg/errors"
)

// Browser is a live browser tab driven by the automation transport
type Browser interface {
	// Navigate loads url and waits for the document
	Navigate(url string) error

	// Location returns the current URL after redirects
	Location() (string, error)

	// ScrollBy scrolls the window down by px pixels
	ScrollBy(px int) error

	// ScrollHeight returns the document's scroll height
	ScrollHeight() (int64, error)

	// HTML returns the rendered markup of the whole document
	HTML() (string, error)

	// Close releases the browser. It is safe to call more than once.
	Close() error
}

// BrowserLauncher starts a new browser owned by the caller
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}

// BrowserOptions configures the anti-detection surface of a launched browser.
// Flags and InitScript can be replaced or cleared.
type BrowserOptions struct {
	RemoteURL  string
	Headless   bool
	UserAgent  string
	WindowSize [2]int
	Flags      map[string]interface{}
	InitScript string
	OpTimeout  time.Duration
}

// DefaultStealthScript hides the common automation fingerprints
const DefaultStealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
window.chrome = window.chrome || {runtime: {}};
`

// DefaultBrowserOptions returns the stealth launch configuration
func DefaultBrowserOptions(headless bool, userAgent string) BrowserOptions {
	return BrowserOptions{
		Headless:   headless,
		UserAgent:  userAgent,
		WindowSize: [2]int{1920, 1080},
		Flags: map[string]interface{}{
			"disable-blink-features": "AutomationControlled",
			"no-sandbox":             true,
			"disable-dev-shm-usage":  true,
			"disable-gpu":            true,
			"disable-extensions":     true,
			"disable-infobars":       true,
			"enable-automation":      false,
		},
		InitScript: DefaultStealthScript,
		OpTimeout:  60 * time.Second,
	}
}

// ChromeLauncher launches browsers through chromedp, either locally or
// against a remote devtools endpoint
type ChromeLauncher struct {
	opts BrowserOptions
}

// NewChromeLauncher creates a new chromedp launcher
func NewChromeLauncher(opts BrowserOptions) *ChromeLauncher {
	return &ChromeLauncher{opts: opts}
}

// Launch starts the browser and installs the init script. Failure here is an
// acquisition error.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if l.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, l.opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, l.execOptions()...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := &chromeBrowser{
		ctx:       tabCtx,
		opTimeout: l.opts.OpTimeout,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	actions := []chromedp.Action{}
	if l.opts.InitScript != "" {
		script := l.opts.InitScript
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}
	// Running on a fresh context starts the browser process
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		b.Close()
		return nil, errors.NewAcquisition("browser", "failed to start browser", err)
	}
	return b, nil
}

func (l *ChromeLauncher) execOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", l.opts.Headless))
	if l.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.opts.UserAgent))
	}
	if l.opts.WindowSize[0] > 0 && l.opts.WindowSize[1] > 0 {
		opts = append(opts, chromedp.WindowSize(l.opts.WindowSize[0], l.opts.WindowSize[1]))
	}
	for name, value := range l.opts.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// chromeBrowser is a Browser backed by a chromedp tab
type chromeBrowser struct {
	ctx       context.Context
	opTimeout time.Duration
	cancel    func()
	once      sync.Once
}

func (b *chromeBrowser) run(actions ...chromedp.Action) error {
	ctx := b.ctx
	if b.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opTimeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

func (b *chromeBrowser) Navigate(url string) error {
	return b.run(chromedp.Navigate(url))
}

func (b *chromeBrowser) Location() (string, error) {
	var location string
	err := b.run(chromedp.Location(&location))
	return location, err
}

func (b *chromeBrowser) ScrollBy(px int) error {
	return b.run(chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d);", px), nil))
}

func (b *chromeBrowser) ScrollHeight() (int64, error) {
	var height int64
	err := b.run(chromedp.Evaluate(`document.body ? document.body.scrollHeight : 0`, &height))
	return height, err
}

func (b *chromeBrowser) HTML() (string, error) {
	var html string
	err := b.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (b *chromeBrowser) Close() error {
	var err error
	b.once.Do(func() {
		err = chromedp.Cancel(b.ctx)
		b.cancel()
	})
	return err
}
