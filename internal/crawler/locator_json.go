package crawler

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

const maxJSONDepth = 64

// DefaultEntryUnwrap lists the wrappers peeled off each list element, in order
var DefaultEntryUnwrap = [][]string{
	{"node", "listing"},
	{"node"},
	{"listing"},
}

// EmbeddedScriptJSONLocator finds listing arrays inside JSON carried by script tags
type EmbeddedScriptJSONLocator struct {
	Markers  []string
	Paths    [][]string
	Unwrap   [][]string
	Reporter helpers.Reporter
}

// NewEmbeddedScriptJSONLocator creates a script locator with the default markers and paths
func NewEmbeddedScriptJSONLocator(reporter helpers.Reporter) *EmbeddedScriptJSONLocator {
	return &EmbeddedScriptJSONLocator{
		Markers: []string{"marketplace_search", "marketplace_feed_stories", "listings"},
		Paths: [][]string{
			{"marketplace_search", "feed_units", "edges"},
			{"marketplace_feed_stories", "edges"},
			{"props", "pageProps", "listings"},
			{"listings"},
		},
		Unwrap:   DefaultEntryUnwrap,
		Reporter: reporter,
	}
}

// Name returns the locator name
func (l *EmbeddedScriptJSONLocator) Name() string {
	return "script-json"
}

// Locate parses every marked script blob strictly and returns the entries of
// the first known path that holds a non-empty list. Malformed blobs are skipped.
func (l *EmbeddedScriptJSONLocator) Locate(payload *RawPayload) ([]RawEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, errors.NewParsing(l.Name(), "failed to parse markup", err)
	}

	log := logger.ForLocator(l.Name())
	var blobs []any
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" || !containsAny(text, l.Markers) {
			return
		}
		value, err := decodeStrict([]byte(text))
		if err != nil {
			log.Debug().Int("script", i).Err(err).Msg("Skipping malformed script blob")
			return
		}
		blobs = append(blobs, value)
	})

	for _, path := range l.Paths {
		for _, blob := range blobs {
			if entries := entriesAt(blob, path, l.Unwrap); len(entries) > 0 {
				if l.Reporter != nil {
					l.Reporter.Report("Found %d items in embedded script at %s", len(entries), strings.Join(path, "."))
				}
				return entries, nil
			}
		}
	}
	return nil, nil
}

// GraphQLJSONLocator finds listing arrays in a structured query response body
type GraphQLJSONLocator struct {
	Paths    [][]string
	Unwrap   [][]string
	Reporter helpers.Reporter
}

// NewGraphQLJSONLocator creates a GraphQL locator with the default paths
func NewGraphQLJSONLocator(reporter helpers.Reporter) *GraphQLJSONLocator {
	return &GraphQLJSONLocator{
		Paths: [][]string{
			{"data", "marketplace_search", "feed_units", "edges"},
			{"data", "viewer", "marketplace_feed_stories", "edges"},
			{"data", "listings"},
			{"listings"},
		},
		Unwrap:   DefaultEntryUnwrap,
		Reporter: reporter,
	}
}

// Name returns the locator name
func (l *GraphQLJSONLocator) Name() string {
	return "graphql"
}

// Locate parses the body as one or more concatenated JSON documents. A body
// that is not JSON at all is a parsing error.
func (l *GraphQLJSONLocator) Locate(payload *RawPayload) ([]RawEntry, error) {
	body := bytes.TrimSpace(payload.Body)
	body = bytes.TrimPrefix(body, []byte("for (;;);"))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var docs []any
	for {
		var value any
		err := dec.Decode(&value)
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(docs) == 0 {
				return nil, errors.NewParsing(l.Name(), "response body is not JSON", err)
			}
			break
		}
		docs = append(docs, value)
	}

	for _, path := range l.Paths {
		for _, doc := range docs {
			if entries := entriesAt(doc, path, l.Unwrap); len(entries) > 0 {
				if l.Reporter != nil {
					l.Reporter.Report("Found %d items in query response at %s", len(entries), strings.Join(path, "."))
				}
				return entries, nil
			}
		}
	}
	return nil, nil
}

// decodeStrict decodes exactly one JSON value with nothing but whitespace after it
func decodeStrict(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.NewParsing("json", "trailing data after JSON value", err)
	}
	return value, nil
}

// entriesAt finds the first non-empty list reachable by path, anchored at any
// depth, and unwraps its elements into entries
func entriesAt(root any, path []string, unwrap [][]string) []RawEntry {
	list := findList(root, path, 0)
	if len(list) == 0 {
		return nil
	}

	entries := make([]RawEntry, 0, len(list))
	for _, item := range list {
		if entry := unwrapEntry(item, unwrap); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

// findList does a depth-first search in deterministic key order for a node
// where path resolves to a non-empty list
func findList(node any, path []string, depth int) []any {
	if depth > maxJSONDepth {
		return nil
	}
	if list, ok := lookup(node, path).([]any); ok && len(list) > 0 {
		return list
	}

	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list := findList(v[k], path, depth+1); len(list) > 0 {
				return list
			}
		}
	case []any:
		for _, item := range v {
			if list := findList(item, path, depth+1); len(list) > 0 {
				return list
			}
		}
	}
	return nil
}

func unwrapEntry(item any, unwrap [][]string) RawEntry {
	for _, path := range unwrap {
		if m, ok := lookup(item, path).(map[string]any); ok {
			return RawEntry(m)
		}
	}
	if m, ok := item.(map[string]any); ok {
		return RawEntry(m)
	}
	return nil
}

func containsAny(s string, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
