package crawler

import (
	"encoding/json"
	"regexp"
	"strings"

	"sjsage522/marketworker/helpers"
)

// RawTextScanLocator scans the payload text for a listing marker and pulls
// quoted fields out of the object enclosing each occurrence. When the marker
// sits outside any object, a bounded window after it is used instead. It is
// the last-resort locator for payloads that are neither parseable markup nor JSON.
type RawTextScanLocator struct {
	Marker   string
	Window   int
	Fields   map[string]string
	Reporter helpers.Reporter
}

// NewRawTextScanLocator creates a text-scan locator keyed on listing titles
func NewRawTextScanLocator(reporter helpers.Reporter) *RawTextScanLocator {
	return &RawTextScanLocator{
		Marker: `"marketplace_listing_title":`,
		Window: 2048,
		Fields: map[string]string{
			"formatted_amount": "price_text",
			"amount":           "amount",
			"id":               "id",
			"url":              "url",
		},
		Reporter: reporter,
	}
}

// Name returns the locator name
func (l *RawTextScanLocator) Name() string {
	return "text-scan"
}

var quotedValue = regexp.MustCompile(`^\s*"((?:[^"\\]|\\.)*)"`)

// Locate returns one entry per marker occurrence that carries a title
func (l *RawTextScanLocator) Locate(payload *RawPayload) ([]RawEntry, error) {
	text := string(payload.Body)
	if l.Marker == "" || !strings.Contains(text, l.Marker) {
		return nil, nil
	}

	var starts []int
	for offset := 0; ; {
		i := strings.Index(text[offset:], l.Marker)
		if i < 0 {
			break
		}
		starts = append(starts, offset+i)
		offset += i + len(l.Marker)
	}

	objects := enclosingObjects(text, starts)

	entries := make([]RawEntry, 0, len(starts))
	for i, start := range starts {
		titleAt := start + len(l.Marker)
		obj := objects[i]
		alone := obj.ok &&
			(i == 0 || starts[i-1] < obj.open) &&
			(i+1 == len(starts) || starts[i+1] > obj.close)

		var window string
		if alone {
			window = text[obj.open : obj.close+1]
		} else {
			end := start + l.Window
			if i+1 < len(starts) && starts[i+1] < end {
				end = starts[i+1]
			}
			if end > len(text) {
				end = len(text)
			}
			window = text[start:end]
		}

		m := quotedValue.FindStringSubmatch(text[titleAt:])
		if m == nil {
			continue
		}
		title, ok := unquote(m[1])
		if !ok || strings.TrimSpace(title) == "" {
			continue
		}

		entry := RawEntry{"title": title}
		for field, key := range l.Fields {
			if value, ok := fieldValue(window, field); ok {
				entry[key] = value
			}
		}
		entries = append(entries, entry)
	}

	if len(entries) > 0 && l.Reporter != nil {
		l.Reporter.Report("Found %d items by scanning for %s", len(entries), l.Marker)
	}
	return entries, nil
}

// fieldValue finds the first "field": value pair in window. Quoted values
// are unescaped; bare numbers are returned as text.
func fieldValue(window, field string) (string, bool) {
	key := `"` + field + `":`
	i := strings.Index(window, key)
	if i < 0 {
		return "", false
	}
	rest := window[i+len(key):]
	if m := quotedValue.FindStringSubmatch(rest); m != nil {
		return unquote(m[1])
	}

	rest = strings.TrimLeft(rest, " \t\r\n")
	j := 0
	for j < len(rest) && (rest[j] >= '0' && rest[j] <= '9' || rest[j] == '.') {
		j++
	}
	if j == 0 {
		return "", false
	}
	return rest[:j], true
}

func unquote(s string) (string, bool) {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return "", false
	}
	return out, true
}

// span is the byte range of a brace-delimited object, close inclusive
type span struct {
	open, close int
	ok          bool
}

// enclosingObjects returns, for each sorted offset in starts, the innermost
// object around it. Braces inside string literals are ignored.
func enclosingObjects(text string, starts []int) []span {
	spans := make([]span, len(starts))
	var stack []int
	// waiting maps an open brace to the starts it encloses
	waiting := make(map[int][]int)

	next := 0
	inString := false
	for i := 0; i < len(text); i++ {
		for next < len(starts) && starts[next] == i {
			if len(stack) > 0 {
				open := stack[len(stack)-1]
				waiting[open] = append(waiting[open], next)
			}
			next++
		}

		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, idx := range waiting[open] {
				spans[idx] = span{open: open, close: i, ok: true}
			}
			delete(waiting, open)
		}
	}
	return spans
}
