package searches

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketworker/internal/crawler"
	"sjsage522/marketworker/pkg/errors"
)

func spec(city string) crawler.SearchSpec {
	return crawler.SearchSpec{City: city, ProductQuery: "road bike", MinPrice: 100, MaxPrice: 900, LocationCode: city}
}

func TestListAddRemoveSnapshot(t *testing.T) {
	list, err := NewList(spec("austin"), spec("dallas"), spec("houston"))
	require.NoError(t, err)

	require.NoError(t, list.Remove(1))
	snapshot := list.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "austin", snapshot[0].City)
	assert.Equal(t, "houston", snapshot[1].City)

	// The snapshot is detached from later edits
	require.NoError(t, list.Add(spec("waco")))
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 3, list.Len())

	err = list.Remove(7)
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
}

func TestListAddTrimsFields(t *testing.T) {
	list := &List{}
	s := spec(" austin ")
	s.ProductQuery = "  bike "
	require.NoError(t, list.Add(s))
	assert.Equal(t, "austin", list.Snapshot()[0].City)
	assert.Equal(t, "bike", list.Snapshot()[0].ProductQuery)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*crawler.SearchSpec)
		want   string
	}{
		{"missing city", func(s *crawler.SearchSpec) { s.City = "" }, "city is required"},
		{"missing query", func(s *crawler.SearchSpec) { s.ProductQuery = "" }, "product query is required"},
		{"missing location", func(s *crawler.SearchSpec) { s.LocationCode = "" }, "location code is required"},
		{"negative min", func(s *crawler.SearchSpec) { s.MinPrice = -1 }, "must not be negative"},
		{"inverted range", func(s *crawler.SearchSpec) { s.MinPrice = 1000 }, "exceeds max price"},
		{"equal bounds", func(s *crawler.SearchSpec) { s.MinPrice = 900 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spec("austin")
			tt.modify(&s)
			err := Validate(s)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
