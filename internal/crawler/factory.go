package crawler

import (
	"fmt"
	"time"

	"sjsage522/marketworker/config"
	"sjsage522/marketworker/internal"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// BuildPairings creates the pairings named by cfg.TransportOrder. Pairings
// that name the same transport or locator share one instance. A nil launcher
// starts Chrome through chromedp.
func BuildPairings(cfg *config.Config, deps internal.Dependencies, launcher BrowserLauncher) ([]Pairing, error) {
	specs, err := cfg.Pairings()
	if err != nil {
		return nil, err
	}

	transports := make(map[string]Transport)
	locators := make(map[string]Locator)

	pairings := make([]Pairing, 0, len(specs))
	for _, spec := range specs {
		transport, ok := transports[spec.Transport]
		if !ok {
			transport, err = newTransport(spec.Transport, cfg, deps, launcher)
			if err != nil {
				return nil, err
			}
			transports[spec.Transport] = transport
		}

		locator, ok := locators[spec.Locator]
		if !ok {
			locator, err = newLocator(spec.Locator, deps)
			if err != nil {
				return nil, err
			}
			locators[spec.Locator] = locator
		}

		pairings = append(pairings, Pairing{Transport: transport, Locator: locator})
	}

	names := make([]string, 0, len(pairings))
	for _, p := range pairings {
		names = append(names, p.Name())
	}
	logger.ForOrchestrator().Debug().Strs("pairings", names).Msg("Created pairings")

	return pairings, nil
}

// NewFromConfig builds the pairings and an orchestrator wired to deps
func NewFromConfig(cfg *config.Config, deps internal.Dependencies, launcher BrowserLauncher) (*Orchestrator, error) {
	pairings, err := BuildPairings(cfg, deps, launcher)
	if err != nil {
		return nil, err
	}
	return NewOrchestrator(pairings, OrchestratorOptions{
		Normalizer: NewNormalizer(cfg.MarketplaceOrigin),
		Reporter:   deps.Reporter,
		Cache:      deps.Cache,
		Cooldown:   cfg.BlockCooldown,
	}), nil
}

func newTransport(name string, cfg *config.Config, deps internal.Dependencies, launcher BrowserLauncher) (Transport, error) {
	direct := DirectOptions{
		Origin:             cfg.MarketplaceOrigin,
		SearchPathTemplate: cfg.SearchPathTemplate,
		GraphQLEndpoint:    cfg.GraphQLEndpoint,
		GraphQLDocID:       cfg.GraphQLDocID,
		UserAgent:          cfg.UserAgent,
		Timeout:            cfg.RequestTimeout,
		LoginMarkers:       cfg.LoginMarkers,
		SnippetBytes:       cfg.ErrorSnippetBytes,
		RequestsPerMinute:  cfg.RequestsPerMinute,
		CloudflareBypass:   cfg.CloudflareBypass,
		Reporter:           deps.Reporter,
	}

	switch name {
	case config.TransportDirectGet:
		return NewDirectGetStrategy(direct), nil
	case config.TransportDirectPost:
		return NewDirectPostStrategy(direct), nil
	case config.TransportBrowser:
		if launcher == nil {
			opts := DefaultBrowserOptions(cfg.ChromeHeadless, cfg.UserAgent)
			opts.RemoteURL = cfg.ChromeRemoteURL
			launcher = NewChromeLauncher(opts)
		}
		return NewBrowserAutomationStrategy(launcher, BrowserStrategyOptions{
			URLs:             DefaultSearchURLs(cfg.MarketplaceOrigin, cfg.SearchPathTemplate),
			SettleDelay:      cfg.SettleDelay,
			ScrollIterations: cfg.ScrollIterations,
			ScrollMinDelay:   cfg.ScrollMinDelay,
			ScrollMaxDelay:   cfg.ScrollMaxDelay,
			AttemptTimeout:   attemptTimeout(cfg),
			LoginMarkers:     cfg.LoginMarkers,
			Reporter:         deps.Reporter,
		}), nil
	default:
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown transport %q", name), nil)
	}
}

func newLocator(name string, deps internal.Dependencies) (Locator, error) {
	switch name {
	case config.LocatorMarkup:
		return NewMarkupTreeLocator(deps.Reporter), nil
	case config.LocatorScriptJSON:
		return NewEmbeddedScriptJSONLocator(deps.Reporter), nil
	case config.LocatorGraphQL:
		return NewGraphQLJSONLocator(deps.Reporter), nil
	case config.LocatorTextScan:
		return NewRawTextScanLocator(deps.Reporter), nil
	default:
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown locator %q", name), nil)
	}
}

// attemptTimeout bounds one browser attempt: settle wait, worst-case scroll
// waits and one request timeout per navigation
func attemptTimeout(cfg *config.Config) time.Duration {
	return 3*(cfg.SettleDelay+cfg.RequestTimeout) + time.Duration(cfg.ScrollIterations)*cfg.ScrollMaxDelay + cfg.RequestTimeout
}
