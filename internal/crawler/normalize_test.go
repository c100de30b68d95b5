package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketworker/pkg/errors"
)

func TestNormalizeStructuredEntry(t *testing.T) {
	n := NewNormalizer("https://www.facebook.com")

	record, err := n.Normalize(RawEntry{
		"id":                        "1234567890",
		"marketplace_listing_title": "  Trek   road bike ",
		"listing_price": map[string]any{
			"amount":           "450.99",
			"formatted_amount": "$451",
		},
	}, "Austin")
	require.NoError(t, err)

	assert.Equal(t, "Trek road bike", record.Title)
	assert.Equal(t, 450, record.Price)
	assert.Equal(t, "$451", record.PriceDisplayText)
	assert.Equal(t, "Austin", record.Location)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/1234567890/", record.URL)
}

func TestNormalizePriceParsing(t *testing.T) {
	n := NewNormalizer("https://example.com")

	tests := []struct {
		name     string
		entry    RawEntry
		expected int
		rejected bool
	}{
		{"formatted text", RawEntry{"title": "Desk lamp", "price_text": "$1,234"}, 1234, false},
		{"free is rejected", RawEntry{"title": "Old couch", "price_text": "Free"}, 0, true},
		{"numeric float floors", RawEntry{"title": "Chair", "price": 19.99}, 19, false},
		{"json number", RawEntry{"title": "Chair", "amount": json.Number("75")}, 75, false},
		{"numeric wins over text", RawEntry{"title": "Chair", "price_amount": 40, "price_text": "$55"}, 40, false},
		{"zero is rejected", RawEntry{"title": "Chair", "price": 0}, 0, true},
		{"negative numeric skipped", RawEntry{"title": "Chair", "price": -5}, 0, true},
		{"no price", RawEntry{"title": "Chair"}, 0, true},
		{"nested numeric", RawEntry{"title": "Chair", "price": map[string]any{"amount": 12.0}}, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := n.Normalize(tt.entry, "Denver")
			if tt.rejected {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrorTypeRecordRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, record.Price)
			assert.Greater(t, record.Price, 0)
		})
	}
}

func TestNormalizeRejectsMissingTitle(t *testing.T) {
	n := NewNormalizer("https://example.com")

	_, err := n.Normalize(RawEntry{"price": 100}, "Denver")
	assert.Error(t, err)

	_, err = n.Normalize(RawEntry{"title": "   ", "price": 100}, "Denver")
	assert.Error(t, err)

	_, err = n.Normalize(nil, "Denver")
	assert.Error(t, err)
}

func TestNormalizeMarkupLines(t *testing.T) {
	n := NewNormalizer("https://www.facebook.com")

	record, err := n.Normalize(RawEntry{
		"lines": []string{"$300", "Road", "Vintage Schwinn cruiser", "Portland, OR"},
		"href":  "/marketplace/item/42/?ref=search",
	}, "Portland")
	require.NoError(t, err)

	assert.Equal(t, "Vintage Schwinn cruiser", record.Title)
	assert.Equal(t, 300, record.Price)
	assert.Equal(t, "$300", record.PriceDisplayText)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/42/?ref=search", record.URL)
}

func TestNormalizeURLResolution(t *testing.T) {
	n := NewNormalizer("https://www.facebook.com/")

	tests := []struct {
		name     string
		link     any
		expected string
	}{
		{"absolute", "https://other.example.com/item/1", "https://other.example.com/item/1"},
		{"relative", "/marketplace/item/7/", "https://www.facebook.com/marketplace/item/7/"},
		{"protocol relative", "//cdn.example.com/x", "https://cdn.example.com/x"},
		{"missing", nil, MissingURL},
		{"blank", "  ", MissingURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := RawEntry{"title": "Bookshelf", "price": 20}
			if tt.link != nil {
				entry["url"] = tt.link
			}
			record, err := n.Normalize(entry, "Boise")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, record.URL)
		})
	}
}

func TestNormalizeAllKeepsOrderAndCountsRejections(t *testing.T) {
	n := NewNormalizer("https://example.com")

	records, rejected := n.NormalizeAll([]RawEntry{
		{"title": "First item", "price": 10},
		{"title": "Free thing", "price_text": "Free"},
		{"title": "Third item", "price": 30},
		{"price": 40},
	}, "Reno")

	assert.Equal(t, 2, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, "First item", records[0].Title)
	assert.Equal(t, "Third item", records[1].Title)
	for _, r := range records {
		assert.NotEmpty(t, r.Title)
		assert.Greater(t, r.Price, 0)
		assert.Equal(t, "Reno", r.Location)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := NewNormalizer("https://example.com")
	entry := RawEntry{"title": "Kayak", "listing_price": map[string]any{"amount": "600", "formatted_amount": "$600"}}

	first, err := n.Normalize(entry, "Tampa")
	require.NoError(t, err)
	second, err := n.Normalize(entry, "Tampa")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
