package searches

import (
	"fmt"
	"strings"
	"sync"

	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/pkg/errors"
)

// List is the ordered, editable collection of searches a run consumes
type List struct {
	mu    sync.Mutex
	specs []crawler.SearchSpec
}

// NewList creates a list holding specs in order. Invalid specs are rejected.
func NewList(specs ...crawler.SearchSpec) (*List, error) {
	l := &List{}
	for _, spec := range specs {
		if err := l.Add(spec); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add validates spec and appends it
func (l *List) Add(spec crawler.SearchSpec) error {
	spec.City = strings.TrimSpace(spec.City)
	spec.ProductQuery = strings.TrimSpace(spec.ProductQuery)
	spec.LocationCode = strings.TrimSpace(spec.LocationCode)

	if err := Validate(spec); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	return nil
}

// Remove deletes the search at index
func (l *List) Remove(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.specs) {
		return errors.NewValidation("searches", fmt.Sprintf("index %d out of range [0, %d)", index, len(l.specs)))
	}
	l.specs = append(l.specs[:index], l.specs[index+1:]...)
	return nil
}

// Snapshot returns a copy of the searches in order
func (l *List) Snapshot() []crawler.SearchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]crawler.SearchSpec(nil), l.specs...)
}

// Len returns the number of searches
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.specs)
}

// Validate checks the fields a search needs to be run
func Validate(spec crawler.SearchSpec) error {
	switch {
	case spec.City == "":
		return errors.NewValidation("searches", "city is required")
	case spec.ProductQuery == "":
		return errors.NewValidation("searches", "product query is required")
	case spec.LocationCode == "":
		return errors.NewValidation("searches", "location code is required")
	case spec.MinPrice < 0:
		return errors.NewValidation("searches", "min price must not be negative")
	case spec.MinPrice > spec.MaxPrice:
		return errors.NewValidation("searches", fmt.Sprintf("min price %d exceeds max price %d", spec.MinPrice, spec.MaxPrice))
	}
	return nil
}
