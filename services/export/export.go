package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// CombinedFileName is the archive entry holding every record of a batch
const CombinedFileName = "combined_results.csv"

// DefaultArchiveName is the archive written when no path is configured
const DefaultArchiveName = "scraped_results.zip"

// Header is the column order of every exported file
var Header = []string{"title", "price", "priceDisplayText", "location", "url"}

// FileName returns the per-search file name <city>_<product>_result.csv
func FileName(spec crawler.SearchSpec) string {
	clean := strings.NewReplacer("/", "-", "\\", "-")
	return clean.Replace(spec.City) + "_" + clean.Replace(spec.ProductQuery) + "_result.csv"
}

// WriteCSV writes records with the header row
func WriteCSV(w io.Writer, records []crawler.ListingRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return errors.NewExport("csv", "failed to write header", err)
	}
	for _, r := range records {
		row := []string{r.Title, strconv.Itoa(r.Price), r.PriceDisplayText, r.Location, r.URL}
		if err := writer.Write(row); err != nil {
			return errors.NewExport("csv", "failed to write row", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.NewExport("csv", "failed to flush", err)
	}
	return nil
}

// WriteArchive writes one CSV per search that produced records, followed by
// the combined CSV, into a deflate-compressed zip
func WriteArchive(w io.Writer, outcomes []crawler.SearchOutcome, combined []crawler.ListingRecord) error {
	archive := zip.NewWriter(w)
	used := map[string]bool{CombinedFileName: true}

	for _, outcome := range outcomes {
		if len(outcome.Records) == 0 {
			continue
		}
		name := uniqueName(FileName(outcome.Spec), used)
		if err := writeEntry(archive, name, outcome.Records); err != nil {
			archive.Close()
			return err
		}
	}

	if err := writeEntry(archive, CombinedFileName, combined); err != nil {
		archive.Close()
		return err
	}

	if err := archive.Close(); err != nil {
		return errors.NewExport("zip", "failed to finish archive", err)
	}
	return nil
}

// WriteArchiveFile writes the archive to path, creating parent directories
func WriteArchiveFile(path string, outcomes []crawler.SearchOutcome, combined []crawler.ListingRecord) error {
	if path == "" {
		path = DefaultArchiveName
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewExport("zip", "could not create output dir", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.NewExport("zip", "could not create "+path, err)
	}

	if err := WriteArchive(file, outcomes, combined); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.NewExport("zip", "could not close "+path, err)
	}

	logger.ForExport().Info().Str("path", path).Int("records", len(combined)).Msg("Archive written")
	return nil
}

func writeEntry(archive *zip.Writer, name string, records []crawler.ListingRecord) error {
	entry, err := archive.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return errors.NewExport("zip", "failed to add "+name, err)
	}
	return WriteCSV(entry, records)
}

// uniqueName suffixes repeated names: a.csv, a_2.csv, a_3.csv. A suffixed
// name that is itself taken moves on to the next number.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	}
	used[candidate] = true
	return candidate
}
