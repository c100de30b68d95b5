package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
	"sjsage522/marketworker/services/cache"
)

// OrchestratorOptions configures an Orchestrator
type OrchestratorOptions struct {
	Normalizer *Normalizer
	Reporter   helpers.Reporter

	// Cache stores cooldown markers for transports that were walled or rate
	// limited. Nil disables cooldowns.
	Cache    cache.CacheService
	Cooldown time.Duration
}

// Orchestrator tries an ordered list of pairings for one search and stops at
// the first pairing that yields a valid record
type Orchestrator struct {
	pairings   []Pairing
	normalizer *Normalizer
	reporter   helpers.Reporter
	cache      cache.CacheService
	cooldown   time.Duration
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(pairings []Pairing, opts OrchestratorOptions) *Orchestrator {
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer("")
	}
	return &Orchestrator{
		pairings:   pairings,
		normalizer: normalizer,
		reporter:   opts.Reporter,
		cache:      opts.Cache,
		cooldown:   opts.Cooldown,
	}
}

// Pairings returns the configured pairing names in order
func (o *Orchestrator) Pairings() []string {
	names := make([]string, 0, len(o.pairings))
	for _, p := range o.pairings {
		names = append(names, p.Name())
	}
	return names
}

// fetchResult is one transport's payload or failure within a single Run
type fetchResult struct {
	payload *RawPayload
	err     error
}

// Run resolves spec to a SearchOutcome. It never returns an error: failures
// end up in the outcome's attempts and diagnostics. The session is only read.
func (o *Orchestrator) Run(ctx context.Context, spec SearchSpec, session *Session) SearchOutcome {
	log := logger.ForOrchestrator().WithField("search", spec.String())

	outcome := SearchOutcome{
		Spec:      spec,
		Status:    OutcomeExhausted,
		StartedAt: time.Now(),
	}
	defer func() {
		outcome.FinishedAt = time.Now()
	}()

	if len(o.pairings) == 0 {
		outcome.Diagnostics = []string{"no pairings configured"}
		log.Warn().Msg("No pairings configured")
		return outcome
	}

	// A transport is fetched at most once per Run; later pairings that share
	// it reuse the payload or the failure.
	fetched := make(map[string]fetchResult)

	for i, pairing := range o.pairings {
		if ctx.Err() != nil {
			outcome.Attempts = append(outcome.Attempts, AttemptResult{
				Pairing: pairing.Name(),
				Status:  StatusTransportFailure,
				Detail:  "cancelled: " + ctx.Err().Error(),
				Err:     ctx.Err(),
			})
			continue
		}

		attempt, acquisition := o.attempt(ctx, pairing, spec, session, fetched)
		if acquisition && len(outcome.Attempts) == 0 && !o.otherTransportAfter(i) {
			// Nothing was tried and nothing else can be: the failure is the
			// sole diagnostic
			outcome.Attempts = []AttemptResult{attempt}
			outcome.Diagnostics = []string{attempt.Diagnostic()}
			log.Error().Err(attempt.Err).Str("pairing", attempt.Pairing).Msg("Resource acquisition failed")
			return outcome
		}
		outcome.Attempts = append(outcome.Attempts, attempt)

		switch attempt.Status {
		case StatusMatched:
			outcome.Status = OutcomeMatched
			outcome.Records = attempt.Records
			outcome.WinningPairing = pairing.Name()
			outcome.WinningKind = pairing.Transport.Kind()
			outcome.WinningLocator = pairing.Locator.Name()
			log.Info().
				Str("pairing", attempt.Pairing).
				Int("records", len(attempt.Records)).
				Dur("duration", attempt.Duration).
				Msg("Search matched")
			return outcome
		case StatusEmptyLocator:
			log.Debug().Str("pairing", attempt.Pairing).Str("detail", attempt.Detail).Msg("Locator found nothing")
		default:
			log.Warn().Str("pairing", attempt.Pairing).Str("status", string(attempt.Status)).Str("detail", attempt.Detail).Msg("Pairing failed")
		}
	}

	for _, attempt := range outcome.Attempts {
		outcome.Diagnostics = append(outcome.Diagnostics, attempt.Diagnostic())
	}
	log.Warn().
		Err(errors.NewExhausted(spec.String(), len(outcome.Attempts))).
		Strs("diagnostics", outcome.Diagnostics).
		Msg("Search exhausted")
	return outcome
}

// otherTransportAfter reports whether a pairing after index i uses a
// different transport than pairing i
func (o *Orchestrator) otherTransportAfter(i int) bool {
	name := o.pairings[i].Transport.Name()
	for _, p := range o.pairings[i+1:] {
		if p.Transport.Name() != name {
			return true
		}
	}
	return false
}

// attempt runs one pairing. The second result is true when the transport
// could not acquire its resources.
func (o *Orchestrator) attempt(ctx context.Context, pairing Pairing, spec SearchSpec, session *Session, fetched map[string]fetchResult) (result AttemptResult, acquisition bool) {
	start := time.Now()
	result = AttemptResult{Pairing: pairing.Name()}
	defer func() {
		result.Duration = time.Since(start)
	}()

	transport := pairing.Transport.Name()
	report(o.reporter, "Attempting %s for %s", result.Pairing, spec.String())

	res, ok := fetched[transport]
	if !ok {
		if o.coolingDown(transport) {
			res = fetchResult{err: errors.New(errors.ErrorTypeBlocked, transport, "transport is cooling down after a block", nil)}
		} else {
			res = o.fetch(ctx, pairing.Transport, spec, session)
			o.markCooldown(transport, res.err)
		}
		fetched[transport] = res
	}

	if res.err != nil {
		result.Err = res.err
		result.Detail = res.err.Error()
		switch errors.TypeOf(res.err) {
		case errors.ErrorTypeAcquisition:
			result.Status = StatusTransportFailure
			return result, true
		case errors.ErrorTypeBlocked, errors.ErrorTypeRateLimit:
			result.Status = StatusBlocked
		default:
			result.Status = StatusTransportFailure
		}
		return result, false
	}

	entries, err := o.locate(pairing.Locator, res.payload)
	if err != nil {
		result.Status = StatusEmptyLocator
		result.Err = err
		result.Detail = err.Error()
		return result, false
	}
	if len(entries) == 0 {
		result.Status = StatusEmptyLocator
		result.Detail = "0 entries"
		return result, false
	}

	records, rejected := o.normalizer.NormalizeAll(entries, spec.City)
	if len(records) == 0 {
		result.Status = StatusEmptyLocator
		result.Detail = fmt.Sprintf("%d entries, all rejected", len(entries))
		return result, false
	}

	result.Status = StatusMatched
	result.Records = records
	result.Detail = strconv.Itoa(len(records)) + " records"
	if rejected > 0 {
		result.Detail += fmt.Sprintf(", %d rejected", rejected)
	}
	return result, false
}

// fetch runs the transport and converts a panic into a transport failure
func (o *Orchestrator) fetch(ctx context.Context, transport Transport, spec SearchSpec, session *Session) (res fetchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.ForTransport(transport.Name()).Error().
				Str("stack", string(debug.Stack())).
				Msgf("Transport panicked: %v", r)
			res = fetchResult{err: errors.NewTransport(transport.Name(), fmt.Sprintf("panic: %v", r), nil)}
		}
	}()

	payload, err := transport.Fetch(ctx, spec, session)
	if err == nil && payload == nil {
		err = errors.NewTransport(transport.Name(), "transport returned no payload", nil)
	}
	if err != nil && errors.TypeOf(err) == "" {
		err = errors.NewTransport(transport.Name(), "fetch failed", err)
	}
	return fetchResult{payload: payload, err: err}
}

// locate runs the locator and converts a panic into a locator miss
func (o *Orchestrator) locate(locator Locator, payload *RawPayload) (entries []RawEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries = nil
			err = errors.NewEmptyLocator(locator.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()
	return locator.Locate(payload)
}

func cooldownKey(transport string) string {
	return "blocked:" + transport
}

func (o *Orchestrator) coolingDown(transport string) bool {
	if o.cache == nil || o.cooldown <= 0 {
		return false
	}
	_, err := o.cache.Get(cooldownKey(transport))
	return err == nil
}

// markCooldown parks a transport after an authentication wall or rate limit
func (o *Orchestrator) markCooldown(transport string, err error) {
	if o.cache == nil || o.cooldown <= 0 || err == nil {
		return
	}
	if !errors.Is(err, errors.ErrorTypeBlocked) && !errors.Is(err, errors.ErrorTypeRateLimit) {
		return
	}
	value := []byte(strconv.Itoa(int(o.cooldown / time.Second)))
	if setErr := o.cache.Set(cooldownKey(transport), value, o.cooldown); setErr != nil {
		logger.LogError("cache", setErr, "failed to set cooldown for %s", transport)
		return
	}
	logger.ForCache().Debug().Str("transport", transport).Dur("cooldown", o.cooldown).Msg("Transport parked")
}
