package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// DefaultListingSelectors are tried in order; the first that matches wins
var DefaultListingSelectors = []string{
	"div[class*='x3ct3a4'] a[role='link']",
	"div[class*='x1xmf6yo']",
	"div[role='main'] div[style*='border-radius: 8px']",
	"a[href*='/marketplace/item/']",
}

// MarkupTreeLocator finds listing containers in rendered markup
type MarkupTreeLocator struct {
	Selectors   []string
	TitleMinLen int
	Reporter    helpers.Reporter
}

// NewMarkupTreeLocator creates a markup locator with the default selectors
func NewMarkupTreeLocator(reporter helpers.Reporter) *MarkupTreeLocator {
	return &MarkupTreeLocator{
		Selectors:   DefaultListingSelectors,
		TitleMinLen: 5,
		Reporter:    reporter,
	}
}

// Name returns the locator name
func (l *MarkupTreeLocator) Name() string {
	return "markup"
}

// Locate returns one entry per container matched by the first productive selector
func (l *MarkupTreeLocator) Locate(payload *RawPayload) ([]RawEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, errors.NewParsing(l.Name(), "failed to parse markup", err)
	}

	log := logger.ForLocator(l.Name())
	for _, selector := range l.Selectors {
		selection := doc.Find(selector)
		if selection.Length() == 0 {
			continue
		}

		entries := make([]RawEntry, 0, selection.Length())
		selection.Each(func(_ int, s *goquery.Selection) {
			if entry := l.entry(s); entry != nil {
				entries = append(entries, entry)
			}
		})
		if len(entries) == 0 {
			continue
		}

		log.Debug().Str("selector", selector).Int("count", len(entries)).Msg("Selector matched")
		l.report("Found %d items using selector: %s", len(entries), selector)
		return entries, nil
	}

	return nil, nil
}

func (l *MarkupTreeLocator) entry(s *goquery.Selection) RawEntry {
	lines := visibleLines(s)
	if len(lines) == 0 {
		return nil
	}

	entry := RawEntry{
		"lines": lines,
		"text":  strings.Join(lines, "\n"),
	}
	if priceLine := helpers.FirstCurrencyLine(lines); priceLine != "" {
		entry["price_text"] = priceLine
	}
	if title := helpers.LongestTitleLine(lines, l.TitleMinLen); title != "" {
		entry["title"] = title
	}

	href, ok := s.Attr("href")
	if !ok {
		href, ok = s.Find("a[href]").First().Attr("href")
	}
	if ok && strings.TrimSpace(href) != "" {
		entry["href"] = strings.TrimSpace(href)
	}
	return entry
}

func (l *MarkupTreeLocator) report(format string, args ...interface{}) {
	if l.Reporter != nil {
		l.Reporter.Report(format, args...)
	}
}

// visibleLines returns the trimmed text nodes under s, one line per node,
// skipping script and style content
func visibleLines(s *goquery.Selection) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			lines = append(lines, helpers.NonEmptyLines(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return lines
}
