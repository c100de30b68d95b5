package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeTransport represents a transport that could not produce a usable payload
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeRateLimit represents a target throttling our requests
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeBlocked represents a payload that landed on an authentication wall
	ErrorTypeBlocked ErrorType = "blocked"
	// ErrorTypeEmptyLocator represents a locator that found zero entries
	ErrorTypeEmptyLocator ErrorType = "empty_locator"
	// ErrorTypeRecordRejected represents a raw entry that failed normalization
	ErrorTypeRecordRejected ErrorType = "record_rejected"
	// ErrorTypeExhausted represents a search where every pairing failed
	ErrorTypeExhausted ErrorType = "exhausted"
	// ErrorTypeAcquisition represents a resource that could not be acquired at all
	ErrorTypeAcquisition ErrorType = "acquisition"
	// ErrorTypeParsing represents payload parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeStorage represents storage-related errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeExport represents export-related errors
	ErrorTypeExport ErrorType = "export"
)

// ScrapeError represents an extraction-pipeline error
type ScrapeError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// IsFallback returns true if the orchestrator should advance to the next pairing
func (e *ScrapeError) IsFallback() bool {
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeBlocked, ErrorTypeEmptyLocator, ErrorTypeParsing:
		return true
	default:
		return false
	}
}

// IsFatal returns true if no attempt at all can be made for the current search
func (e *ScrapeError) IsFatal() bool {
	return e.Type == ErrorTypeAcquisition
}

// TypeOf returns the ErrorType of err, or "" when err is not a ScrapeError
func TypeOf(err error) ErrorType {
	var se *ScrapeError
	if stderrors.As(err, &se) {
		return se.Type
	}
	return ""
}

// Is reports whether err carries the given ErrorType
func Is(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// New creates a new ScrapeError
func New(errType ErrorType, source, message string, err error) *ScrapeError {
	return &ScrapeError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewTransport creates a new transport error
func NewTransport(source, message string, err error) *ScrapeError {
	return New(ErrorTypeTransport, source, message, err)
}

// NewBlocked creates a new blocked error for the given final URL
func NewBlocked(source, finalURL string) *ScrapeError {
	return New(ErrorTypeBlocked, source, fmt.Sprintf("authentication wall at %s", finalURL), nil)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, status int, retryAfter string) *ScrapeError {
	message := fmt.Sprintf("rate limited with status %d", status)
	if retryAfter != "" {
		message += "; retry after " + retryAfter
	}
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewEmptyLocator creates a new empty locator error
func NewEmptyLocator(source, message string) *ScrapeError {
	return New(ErrorTypeEmptyLocator, source, message, nil)
}

// NewRejected creates a new record rejection error
func NewRejected(source, reason string) *ScrapeError {
	return New(ErrorTypeRecordRejected, source, reason, nil)
}

// NewExhausted creates a new exhausted error
func NewExhausted(source string, attempts int) *ScrapeError {
	return New(ErrorTypeExhausted, source, fmt.Sprintf("all %d pairings failed", attempts), nil)
}

// NewAcquisition creates a new resource acquisition error
func NewAcquisition(source, message string, err error) *ScrapeError {
	return New(ErrorTypeAcquisition, source, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, message string, err error) *ScrapeError {
	return New(ErrorTypeParsing, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *ScrapeError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScrapeError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *ScrapeError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *ScrapeError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewStorage creates a new storage error
func NewStorage(source, message string, err error) *ScrapeError {
	return New(ErrorTypeStorage, source, message, err)
}

// NewExport creates a new export error
func NewExport(source, message string, err error) *ScrapeError {
	return New(ErrorTypeExport, source, message, err)
}
