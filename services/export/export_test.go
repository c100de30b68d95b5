package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketworker/internal/crawler"
)

var austin = crawler.SearchSpec{City: "Austin", ProductQuery: "road bike", LocationCode: "austin", MaxPrice: 900}

func records(titles ...string) []crawler.ListingRecord {
	out := make([]crawler.ListingRecord, 0, len(titles))
	for i, title := range titles {
		out = append(out, crawler.ListingRecord{
			Title:            title,
			Price:            1234 + i,
			PriceDisplayText: "$1,234",
			Location:         "Austin",
			URL:              "https://www.facebook.com/marketplace/item/1/",
		})
	}
	return out
}

func readZip(t *testing.T, data []byte) map[string][][]string {
	t.Helper()
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string][][]string)
	for _, f := range reader.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)

		rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
		require.NoError(t, err)
		files[f.Name] = rows
	}
	return files
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Austin_road bike_result.csv", FileName(austin))
	assert.Equal(t, "Fort Worth_AC-DC vinyl_result.csv", FileName(crawler.SearchSpec{City: "Fort Worth", ProductQuery: "AC/DC vinyl"}))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	recs := records("Trek, carbon")
	require.NoError(t, WriteCSV(&buf, recs))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"title", "price", "priceDisplayText", "location", "url"}, rows[0])
	assert.Equal(t, []string{"Trek, carbon", "1234", "$1,234", "Austin", "https://www.facebook.com/marketplace/item/1/"}, rows[1])
}

func TestWriteArchive(t *testing.T) {
	dallas := crawler.SearchSpec{City: "Dallas", ProductQuery: "kayak", LocationCode: "dallas"}
	outcomes := []crawler.SearchOutcome{
		{Spec: austin, Status: crawler.OutcomeMatched, Records: records("a1", "a2")},
		{Spec: dallas, Status: crawler.OutcomeExhausted},
		{Spec: austin, Status: crawler.OutcomeMatched, Records: records("a3")},
	}
	combined := append(records("a1", "a2"), records("a3")...)

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, outcomes, combined))

	files := readZip(t, buf.Bytes())
	require.Len(t, files, 3)
	assert.Len(t, files["Austin_road bike_result.csv"], 3)
	assert.Len(t, files["Austin_road bike_result_2.csv"], 2)
	assert.NotContains(t, files, "Dallas_kayak_result.csv")

	all := files[CombinedFileName]
	require.Len(t, all, 4)
	assert.Equal(t, "a1", all[1][0])
	assert.Equal(t, "a3", all[3][0])
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{CombinedFileName: true}
	assert.Equal(t, "x_2.csv", uniqueName("x_2.csv", used))
	assert.Equal(t, "x.csv", uniqueName("x.csv", used))
	assert.Equal(t, "x_3.csv", uniqueName("x.csv", used))
	assert.Equal(t, "x_4.csv", uniqueName("x.csv", used))
	assert.Equal(t, "combined_results_2.csv", uniqueName(CombinedFileName, used))
}

func TestWriteArchiveAlwaysHasCombinedFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, nil, nil))

	files := readZip(t, buf.Bytes())
	require.Len(t, files, 1)
	assert.Equal(t, [][]string{Header}, files[CombinedFileName])
}

func TestWriteArchiveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultArchiveName)
	outcomes := []crawler.SearchOutcome{{Spec: austin, Status: crawler.OutcomeMatched, Records: records("a1")}}

	require.NoError(t, WriteArchiveFile(path, outcomes, outcomes[0].Records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	files := readZip(t, data)
	assert.Contains(t, files, "Austin_road bike_result.csv")
	assert.Contains(t, files, CombinedFileName)
}
