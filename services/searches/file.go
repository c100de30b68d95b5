package searches

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// File is the on-disk shape of a searches file
//
//	{
//	  searches: [
//	    {city: "Austin", product_query: "road bike", min_price: 100, max_price: 900,
//	     location_code: "austin", match_mode: "exact"},
//	  ],
//	}
type File struct {
	Searches []Entry `json:"searches"`
}

// Entry is one search as written in a file
type Entry struct {
	City         string `json:"city"`
	ProductQuery string `json:"product_query"`
	MinPrice     int    `json:"min_price"`
	MaxPrice     int    `json:"max_price"`
	LocationCode string `json:"location_code"`
	MatchMode    string `json:"match_mode"`
}

// LoadFile reads a JSON5 searches file. A sibling <name>.local.<ext> file,
// when present, appends its searches after the base file's. Missing both
// files is os.ErrNotExist.
func LoadFile(path string) (*List, error) {
	file, err := readMerged(path)
	if err != nil {
		return nil, err
	}

	list := &List{}
	for i, entry := range file.Searches {
		mode, err := crawler.ParseMatchMode(strings.ToLower(strings.TrimSpace(entry.MatchMode)))
		if err != nil {
			return nil, errors.NewValidation("searches", fmt.Sprintf("search %d: %v", i, err))
		}
		spec := crawler.SearchSpec{
			City:         entry.City,
			ProductQuery: entry.ProductQuery,
			MinPrice:     entry.MinPrice,
			MaxPrice:     entry.MaxPrice,
			LocationCode: entry.LocationCode,
			MatchMode:    mode,
		}
		if err := list.Add(spec); err != nil {
			return nil, fmt.Errorf("search %d: %w", i, err)
		}
	}

	logger.Info("Loaded %d searches from %s", list.Len(), path)
	return list, nil
}

func readMerged(path string) (File, error) {
	var out File
	found := false

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, errors.NewParsing("searches", "invalid searches file "+path, err)
		}
		found = true
	}

	local := localPath(path)
	data, err = os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		var override File
		if err := json5.Unmarshal(data, &override); err != nil {
			return out, errors.NewParsing("searches", "invalid searches file "+local, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithAppendSlice); err != nil {
			return out, err
		}
		logger.Debug("Merged local searches from %s", local)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// localPath turns searches.json5 into searches.local.json5
func localPath(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)
}
