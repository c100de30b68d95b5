package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
	"sjsage522/marketworker/services/publisher"
)

// PublishKey is the stream field under which each record is published
const PublishKey = "b64_listings"

// Extractor resolves one search into an outcome
type Extractor interface {
	Run(ctx context.Context, spec crawler.SearchSpec, session *crawler.Session) crawler.SearchOutcome
}

// Sink persists finished outcomes
type Sink interface {
	SaveOutcome(ctx context.Context, outcome crawler.SearchOutcome) error
}

// Options configures a BatchRunner. Every member is optional.
type Options struct {
	Publisher publisher.Publisher
	Sink      Sink
	Reporter  helpers.Reporter
	// Pause is waited between two searches
	Pause time.Duration
}

// BatchResult holds every per-search outcome in input order and the
// concatenation of their records
type BatchResult struct {
	Outcomes []crawler.SearchOutcome
	Combined []crawler.ListingRecord
	Warnings []string
}

// Matched returns the number of searches that produced records
func (r BatchResult) Matched() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Matched() {
			n++
		}
	}
	return n
}

// BatchRunner runs searches one after another
type BatchRunner struct {
	extractor Extractor
	opts      Options
}

// NewBatchRunner creates a new batch runner
func NewBatchRunner(extractor Extractor, opts Options) *BatchRunner {
	return &BatchRunner{extractor: extractor, opts: opts}
}

// Run resolves every spec sequentially. It never aborts: an exhausted or
// panicking search becomes a warning and the batch moves on. The session is
// passed to each search unchanged.
func (b *BatchRunner) Run(ctx context.Context, specs []crawler.SearchSpec, session *crawler.Session) BatchResult {
	log := logger.ForWorker()
	start := time.Now()

	result := BatchResult{
		Outcomes: make([]crawler.SearchOutcome, 0, len(specs)),
		Combined: []crawler.ListingRecord{},
	}

	for i, spec := range specs {
		if i > 0 && b.opts.Pause > 0 {
			if err := sleep(ctx, b.opts.Pause); err != nil {
				log.Warn().Err(err).Msg("Pause between searches interrupted")
			}
		}

		b.report("Processing search %d/%d: %s", i+1, len(specs), spec.String())
		outcome := b.runOne(ctx, spec, session)
		result.Outcomes = append(result.Outcomes, outcome)

		if !outcome.Matched() {
			warning := fmt.Sprintf("%s: no listings found", spec.String())
			if len(outcome.Diagnostics) > 0 {
				warning += " (" + strings.Join(outcome.Diagnostics, "; ") + ")"
			}
			result.Warnings = append(result.Warnings, warning)
			b.report("No listings found for %s", spec.String())
		} else {
			result.Combined = append(result.Combined, outcome.Records...)
			b.report("Found %d listings for %s via %s", len(outcome.Records), spec.String(), outcome.WinningPairing)
			b.publish(spec, outcome.Records)
		}

		if b.opts.Sink != nil {
			if err := b.opts.Sink.SaveOutcome(ctx, outcome); err != nil {
				logger.LogError("worker", err, "failed to store outcome for %s", spec.String())
			}
		}
	}

	if b.opts.Publisher != nil {
		if err := b.opts.Publisher.TrimStreams(); err != nil {
			logger.LogError("worker", err, "failed to trim streams")
		}
	}

	log.Info().
		Int("searches", len(specs)).
		Int("matched", result.Matched()).
		Int("records", len(result.Combined)).
		Dur("elapsed", time.Since(start)).
		Msg("Batch finished")
	return result
}

// runOne converts a panic in the extractor into an exhausted outcome
func (b *BatchRunner) runOne(ctx context.Context, spec crawler.SearchSpec, session *crawler.Session) (outcome crawler.SearchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.ForWorker().Error().Str("stack", string(debug.Stack())).Msgf("Search %s panicked: %v", spec.String(), r)
			now := time.Now()
			outcome = crawler.SearchOutcome{
				Spec:        spec,
				Status:      crawler.OutcomeExhausted,
				Diagnostics: []string{fmt.Sprintf("panic: %v", r)},
				StartedAt:   now,
				FinishedAt:  now,
			}
		}
	}()
	return b.extractor.Run(ctx, spec, session)
}

func (b *BatchRunner) publish(spec crawler.SearchSpec, records []crawler.ListingRecord) {
	if b.opts.Publisher == nil {
		return
	}
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			logger.LogError("worker", errors.NewPublisher(spec.String(), "failed to encode record", err), "failed to publish %s", spec.String())
			return
		}
		if err := b.opts.Publisher.Publish(PublishKey, data); err != nil {
			logger.LogError("worker", err, "failed to publish %s", spec.String())
			return
		}
	}
	logger.ForWorker().Debug().Str("search", spec.String()).Int("records", len(records)).Msg("Published records")
}

func (b *BatchRunner) report(format string, args ...interface{}) {
	if b.opts.Reporter != nil {
		b.opts.Reporter.Report(format, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
