package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/pkg/errors"
)

func htmlPayload(body string) *RawPayload {
	return &RawPayload{Body: []byte(body), ContentType: "text/html; charset=utf-8", Status: 200, TransportKind: KindBrowser}
}

const markupFixture = `<html><body><div role="main">
	<div class="x3ct3a4 abc">
		<a role="link" href="/marketplace/item/111/">
			<span>$250</span>
			<span>Mountain bike 27.5 inch</span>
			<span>Austin, TX</span>
		</a>
	</div>
	<div class="x3ct3a4">
		<a role="link" href="/marketplace/item/222/">
			<span>$1,100</span>
			<span>Electric scooter, like new</span>
			<script>var tracking = "$999 ignored";</script>
		</a>
	</div>
</div></body></html>`

func TestMarkupTreeLocator(t *testing.T) {
	reporter := helpers.NewChannelReporter(4)
	locator := NewMarkupTreeLocator(reporter)

	entries, err := locator.Locate(htmlPayload(markupFixture))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "$250", entries[0]["price_text"])
	assert.Equal(t, "Mountain bike 27.5 inch", entries[0]["title"])
	assert.Equal(t, "/marketplace/item/111/", entries[0]["href"])
	assert.Equal(t, []string{"$250", "Mountain bike 27.5 inch", "Austin, TX"}, entries[0]["lines"])

	assert.Equal(t, "$1,100", entries[1]["price_text"])
	assert.NotContains(t, entries[1]["text"], "ignored")

	assert.Contains(t, <-reporter.Lines(), "Found 2 items using selector")
}

func TestMarkupTreeLocatorFallsThroughSelectors(t *testing.T) {
	locator := NewMarkupTreeLocator(nil)
	body := `<html><body><div role="main">
		<div style="border-radius: 8px; padding: 4px"><a href="https://www.facebook.com/marketplace/item/9/">Dining table set<br>$80</a></div>
	</div></body></html>`

	entries, err := locator.Locate(htmlPayload(body))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/9/", entries[0]["href"])
	assert.Equal(t, "$80", entries[0]["price_text"])
}

func TestMarkupTreeLocatorEmpty(t *testing.T) {
	entries, err := NewMarkupTreeLocator(nil).Locate(htmlPayload(`<html><body><p>Nothing here</p></body></html>`))
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

const scriptFixture = `<html><head>
<script>window.__config = {broken json</script>
<script type="application/json">{"unrelated": true}</script>
<script type="application/json" data-sjs>{"require":[["ScheduledServerJS","handle",null,[{"__bbox":{"result":{"data":{"marketplace_search":{"feed_units":{"edges":[
	{"node":{"listing":{"id":"501","marketplace_listing_title":"Standing desk","listing_price":{"amount":"120.00","formatted_amount":"$120"}}}},
	{"node":{"listing":{"id":"502","marketplace_listing_title":"Office chair","listing_price":{"amount":"45.00","formatted_amount":"$45"}}}}
]}}}}}}]]]}</script>
</head><body></body></html>`

func TestEmbeddedScriptJSONLocator(t *testing.T) {
	locator := NewEmbeddedScriptJSONLocator(nil)

	entries, err := locator.Locate(htmlPayload(scriptFixture))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Standing desk", entries[0]["marketplace_listing_title"])
	assert.Equal(t, "502", entries[1]["id"])

	records, rejected := NewNormalizer("https://www.facebook.com").NormalizeAll(entries, "Seattle")
	assert.Equal(t, 0, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, 120, records[0].Price)
	assert.Equal(t, "$120", records[0].PriceDisplayText)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/501/", records[0].URL)
}

func TestEmbeddedScriptJSONLocatorSkipsMalformed(t *testing.T) {
	body := `<html><script>{"listings": [{"title": "x"}] trailing garbage</script></html>`
	entries, err := NewEmbeddedScriptJSONLocator(nil).Locate(htmlPayload(body))
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGraphQLJSONLocator(t *testing.T) {
	body := `for (;;);{"data":{"marketplace_search":{"feed_units":{"edges":[
		{"node":{"listing":{"id":"9001","marketplace_listing_title":"PS5 console","listing_price":{"amount":"380","formatted_amount":"$380"}}}}
	]}}}}
{"extensions":{"is_final":true}}`

	payload := &RawPayload{Body: []byte(body), ContentType: "application/json", Status: 200, TransportKind: KindDirect}
	entries, err := NewGraphQLJSONLocator(nil).Locate(payload)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PS5 console", entries[0]["marketplace_listing_title"])
}

func TestGraphQLJSONLocatorNotJSON(t *testing.T) {
	payload := &RawPayload{Body: []byte("<html>login</html>"), Status: 200}
	_, err := NewGraphQLJSONLocator(nil).Locate(payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
}

func TestGraphQLJSONLocatorEmptyList(t *testing.T) {
	payload := &RawPayload{Body: []byte(`{"data":{"marketplace_search":{"feed_units":{"edges":[]}}}}`), Status: 200}
	entries, err := NewGraphQLJSONLocator(nil).Locate(payload)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRawTextScanLocator(t *testing.T) {
	body := `requireLazy(...);{"id":"77","marketplace_listing_title":"Canon \"R6\" body","listing_price":{"formatted_amount":"$1,450","amount":"1450.00"},"url":"https:\/\/www.facebook.com\/marketplace\/item\/77\/"}
	junk junk {"marketplace_listing_title":"Tripod","listing_price":{"formatted_amount":"$30"},"id":"78"}
	{"marketplace_listing_title": 12}`

	entries, err := NewRawTextScanLocator(nil).Locate(&RawPayload{Body: []byte(body), Status: 200})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, `Canon "R6" body`, entries[0]["title"])
	assert.Equal(t, "$1,450", entries[0]["price_text"])
	assert.Equal(t, "1450.00", entries[0]["amount"])
	assert.Equal(t, "https://www.facebook.com/marketplace/item/77/", entries[0]["url"])

	assert.Equal(t, "Tripod", entries[1]["title"])
	assert.Equal(t, "78", entries[1]["id"])

	records, rejected := NewNormalizer("https://www.facebook.com").NormalizeAll(entries, "Miami")
	assert.Equal(t, 0, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, 1450, records[0].Price)
	assert.Equal(t, 30, records[1].Price)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/78/", records[1].URL)
}

func TestRawTextScanLocatorFieldsBeforeTitle(t *testing.T) {
	body := `[{"id":"111","marketplace_listing_title":"Alpha road bike","formatted_amount":"$100"},` +
		`{"id":"222","formatted_amount":"$900","marketplace_listing_title":"Beta road bike"}]`

	entries, err := NewRawTextScanLocator(nil).Locate(&RawPayload{Body: []byte(body)})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	records, rejected := NewNormalizer("https://www.facebook.com").NormalizeAll(entries, "Denver")
	assert.Equal(t, 0, rejected)
	require.Len(t, records, 2)
	assert.Equal(t, "Alpha road bike", records[0].Title)
	assert.Equal(t, 100, records[0].Price)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/111/", records[0].URL)
	assert.Equal(t, "Beta road bike", records[1].Title)
	assert.Equal(t, 900, records[1].Price)
	assert.Equal(t, "https://www.facebook.com/marketplace/item/222/", records[1].URL)
}

func TestRawTextScanLocatorIgnoresBracesInStrings(t *testing.T) {
	body := `{"id":"5","note":"{not an object","marketplace_listing_title":"Helmet } size M","formatted_amount":"$25"}`

	entries, err := NewRawTextScanLocator(nil).Locate(&RawPayload{Body: []byte(body)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Helmet } size M", entries[0]["title"])
	assert.Equal(t, "5", entries[0]["id"])
	assert.Equal(t, "$25", entries[0]["price_text"])
}

func TestRawTextScanLocatorDecodesSurrogatePairs(t *testing.T) {
	body := `{"marketplace_listing_title":"Fixie \ud83d\udeb2 bike","formatted_amount":"$100","url":"\/marketplace\/item\/9\/"}`

	entries, err := NewRawTextScanLocator(nil).Locate(&RawPayload{Body: []byte(body)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Fixie 🚲 bike", entries[0]["title"])
	assert.Equal(t, "/marketplace/item/9/", entries[0]["url"])
}

func TestRawTextScanLocatorNoMarker(t *testing.T) {
	entries, err := NewRawTextScanLocator(nil).Locate(&RawPayload{Body: []byte("plain text")})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
