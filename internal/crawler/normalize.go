package crawler

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/pkg/errors"
)

// PricePath is one place a price may live inside a raw entry
type PricePath struct {
	Path []string
	// Text marks a human-formatted value parsed by stripping non-digits
	Text bool
}

// Normalizer converts raw entries into listing records
type Normalizer struct {
	Origin      string
	TitlePaths  [][]string
	PricePaths  []PricePath
	URLPaths    [][]string
	IDPaths     [][]string
	ItemPath    string
	TitleMinLen int
}

// NewNormalizer creates a normalizer with the default key order for origin
func NewNormalizer(origin string) *Normalizer {
	return &Normalizer{
		Origin: strings.TrimRight(origin, "/"),
		TitlePaths: [][]string{
			{"marketplace_listing_title"},
			{"title"},
			{"custom_title"},
			{"name"},
		},
		PricePaths: []PricePath{
			{Path: []string{"listing_price", "amount"}},
			{Path: []string{"price", "amount"}},
			{Path: []string{"price_amount"}},
			{Path: []string{"amount"}},
			{Path: []string{"price"}},
			{Path: []string{"listing_price", "formatted_amount"}, Text: true},
			{Path: []string{"formatted_price", "text"}, Text: true},
			{Path: []string{"formatted_amount"}, Text: true},
			{Path: []string{"price_text"}, Text: true},
			{Path: []string{"price"}, Text: true},
		},
		URLPaths: [][]string{
			{"url"},
			{"listing_url"},
			{"href"},
			{"story", "url"},
		},
		IDPaths: [][]string{
			{"id"},
			{"listing_id"},
		},
		ItemPath:    "/marketplace/item/%s/",
		TitleMinLen: 5,
	}
}

// Normalize converts one raw entry into a ListingRecord for city. Entries
// without a title or without a positive price are rejected.
func (n *Normalizer) Normalize(entry RawEntry, city string) (record ListingRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = ListingRecord{}
			err = errors.NewRejected("normalizer", fmt.Sprintf("panic: %v", r))
		}
	}()

	if entry == nil {
		return ListingRecord{}, errors.NewRejected("normalizer", "nil entry")
	}

	title := n.title(entry)
	if title == "" {
		return ListingRecord{}, errors.NewRejected("normalizer", "missing title")
	}

	price, display := n.price(entry)
	if price <= 0 {
		return ListingRecord{}, errors.NewRejected("normalizer", fmt.Sprintf("non-positive price %d for %q", price, title))
	}

	return ListingRecord{
		Title:            title,
		Price:            price,
		PriceDisplayText: display,
		Location:         city,
		URL:              n.url(entry),
	}, nil
}

// NormalizeAll normalizes entries in order and returns the kept records and
// the number of rejections
func (n *Normalizer) NormalizeAll(entries []RawEntry, city string) ([]ListingRecord, int) {
	records := make([]ListingRecord, 0, len(entries))
	rejected := 0
	for _, entry := range entries {
		record, err := n.Normalize(entry, city)
		if err != nil {
			rejected++
			continue
		}
		records = append(records, record)
	}
	return records, rejected
}

func (n *Normalizer) title(entry RawEntry) string {
	for _, path := range n.TitlePaths {
		if s, ok := lookup(entry, path).(string); ok {
			if s = helpers.CollapseSpace(s); s != "" {
				return s
			}
		}
	}
	// Markup entries only carry visible lines
	return helpers.CollapseSpace(helpers.LongestTitleLine(entryLines(entry), n.TitleMinLen))
}

func (n *Normalizer) price(entry RawEntry) (int, string) {
	display := ""
	for _, path := range n.PricePaths {
		if !path.Text {
			continue
		}
		if s, ok := lookup(entry, path.Path).(string); ok && strings.TrimSpace(s) != "" {
			display = strings.TrimSpace(s)
			break
		}
	}
	if display == "" {
		display = helpers.FirstCurrencyLine(entryLines(entry))
	}

	for _, path := range n.PricePaths {
		value := lookup(entry, path.Path)
		if value == nil {
			continue
		}
		var (
			price int
			ok    bool
		)
		if path.Text {
			price, ok = textPrice(value)
		} else {
			price, ok = numericPrice(value)
		}
		if ok {
			return price, display
		}
	}

	if display != "" {
		price, _ := textPrice(display)
		return price, display
	}
	return 0, display
}

func (n *Normalizer) url(entry RawEntry) string {
	for _, path := range n.URLPaths {
		if s, ok := lookup(entry, path).(string); ok && strings.TrimSpace(s) != "" {
			if resolved := resolveURL(n.Origin, strings.TrimSpace(s)); resolved != "" {
				return resolved
			}
		}
	}
	for _, path := range n.IDPaths {
		if id := idString(lookup(entry, path)); id != "" && n.ItemPath != "" {
			return n.Origin + fmt.Sprintf(n.ItemPath, url.PathEscape(id))
		}
	}
	return MissingURL
}

// numericPrice accepts numbers and numeric strings, flooring fractions
func numericPrice(value any) (int, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(math.Floor(f)), true
}

// textPrice strips every non-digit; no digits at all reads as zero
func textPrice(value any) (int, bool) {
	s, ok := value.(string)
	if !ok {
		return 0, false
	}
	digits := helpers.DigitsOnly(s)
	if digits == "" {
		return 0, true
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return price, true
}

func idString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// resolveURL makes link absolute against origin
func resolveURL(origin, link string) string {
	if strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	base, err := url.Parse(origin + "/")
	if err != nil {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// lookup walks a nested map/slice path. Numeric segments index slices.
func lookup(value any, path []string) any {
	current := value
	for _, key := range path {
		switch node := current.(type) {
		case RawEntry:
			current = node[key]
		case map[string]any:
			current = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			current = node[i]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}

func entryLines(entry RawEntry) []string {
	switch v := entry["lines"].(type) {
	case []string:
		return v
	case []any:
		lines := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				lines = append(lines, s)
			}
		}
		return lines
	}
	if text, ok := entry["text"].(string); ok {
		return helpers.NonEmptyLines(text)
	}
	return nil
}
