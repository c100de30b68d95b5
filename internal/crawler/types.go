package crawler

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// MatchMode controls whether the target matches the query exactly
type MatchMode int

const (
	// MatchPartial lets the target return loosely related listings
	MatchPartial MatchMode = iota
	// MatchExact asks the target for exact query matches only
	MatchExact
)

// String returns the mode name
func (m MatchMode) String() string {
	if m == MatchExact {
		return "exact"
	}
	return "partial"
}

// ParseMatchMode converts "exact" or "partial" into a MatchMode
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "exact", "Exact", "EXACT":
		return MatchExact, nil
	case "", "partial", "Partial", "PARTIAL":
		return MatchPartial, nil
	default:
		return MatchPartial, fmt.Errorf("unknown match mode %q", s)
	}
}

// SearchSpec describes one search against the marketplace
type SearchSpec struct {
	City         string    `json:"city"`
	ProductQuery string    `json:"product_query"`
	MinPrice     int       `json:"min_price"`
	MaxPrice     int       `json:"max_price"`
	LocationCode string    `json:"location_code"`
	MatchMode    MatchMode `json:"match_mode"`
}

// String returns a short label used in logs and diagnostics
func (s SearchSpec) String() string {
	return fmt.Sprintf("%s/%s", s.City, s.ProductQuery)
}

// TransportKind identifies how a payload was obtained
type TransportKind string

const (
	// KindDirect is a plain HTTP request
	KindDirect TransportKind = "direct"
	// KindBrowser is a rendered page from browser automation
	KindBrowser TransportKind = "browser"
)

// RawPayload is the raw result of a transport strategy
type RawPayload struct {
	Body          []byte
	ContentType   string
	Status        int
	FinalURL      string
	TransportKind TransportKind
}

// RawEntry is a loosely typed listing entry produced by a locator
type RawEntry map[string]any

// ListingRecord is a normalized listing
type ListingRecord struct {
	Title            string `json:"title"`
	Price            int    `json:"price"`
	PriceDisplayText string `json:"price_display_text"`
	Location         string `json:"location"`
	URL              string `json:"url"`
}

// MissingURL is the sentinel stored when a listing has no link
const MissingURL = "#"

// AttemptStatus is the result class of one pairing attempt
type AttemptStatus string

const (
	// StatusMatched means the pairing yielded at least one valid record
	StatusMatched AttemptStatus = "matched"
	// StatusEmptyLocator means the locator ran cleanly but found nothing usable
	StatusEmptyLocator AttemptStatus = "empty_locator"
	// StatusTransportFailure means the transport produced no usable payload
	StatusTransportFailure AttemptStatus = "transport_failure"
	// StatusBlocked means the final URL was an authentication wall
	StatusBlocked AttemptStatus = "blocked"
)

// AttemptResult records the outcome of one (transport, locator) pairing
type AttemptResult struct {
	Pairing  string
	Status   AttemptStatus
	Records  []ListingRecord
	Detail   string
	Err      error
	Duration time.Duration
}

// Diagnostic renders the attempt as a single human-readable line
func (a AttemptResult) Diagnostic() string {
	if a.Detail == "" {
		return fmt.Sprintf("%s: %s", a.Pairing, a.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", a.Pairing, a.Status, a.Detail)
}

// OutcomeStatus is the terminal state of a search
type OutcomeStatus string

const (
	// OutcomeMatched means one pairing produced records
	OutcomeMatched OutcomeStatus = "matched"
	// OutcomeExhausted means every pairing failed
	OutcomeExhausted OutcomeStatus = "exhausted"
)

// SearchOutcome is the result of running the orchestrator for one SearchSpec
type SearchOutcome struct {
	Spec           SearchSpec
	Status         OutcomeStatus
	Records        []ListingRecord
	WinningPairing string
	WinningKind    TransportKind
	WinningLocator string
	Attempts       []AttemptResult
	Diagnostics    []string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Matched reports whether the search produced records
func (o SearchOutcome) Matched() bool {
	return o.Status == OutcomeMatched
}

// Session carries caller-owned authentication state. The pipeline only
// reads it and never closes Browser.
type Session struct {
	Cookies []*http.Cookie
	Browser Browser
}

// Transport obtains a raw payload for a search
type Transport interface {
	// Name returns the transport's name for diagnostics
	Name() string

	// Kind returns the transport kind
	Kind() TransportKind

	// Fetch retrieves the payload. Errors are *errors.ScrapeError values of
	// type transport, blocked or acquisition.
	Fetch(ctx context.Context, spec SearchSpec, session *Session) (*RawPayload, error)
}

// Locator extracts raw listing entries from a payload
type Locator interface {
	// Name returns the locator's name for diagnostics
	Name() string

	// Locate returns the entries found. Zero entries with a nil error is the
	// empty-locator outcome.
	Locate(payload *RawPayload) ([]RawEntry, error)
}

// Pairing is one (transport, locator) combination tried by the orchestrator
type Pairing struct {
	Transport Transport
	Locator   Locator
}

// Name returns the pairing in transport:locator form
func (p Pairing) Name() string {
	return p.Transport.Name() + ":" + p.Locator.Name()
}
