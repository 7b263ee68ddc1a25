package facts

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func writeCache(t *testing.T, cache CacheFile) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts_cache.json")
	raw, err := json.Marshal(cache)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func testCache() CacheFile {
	return CacheFile{
		Meta: Meta{GeneratedAt: "2025-06-01T00:00:00Z", Source: "ledger.jsonl"},
		Facts: map[string]Record{
			"ACME::CY2025Q1": {
				SchemaID: SchemaID, Ticker: "ACME", PeriodID: "CY2025Q1",
				Provenance: Provenance{UpdatedAt: strptr("2025-01-01")},
			},
			"ACME::CY2025Q2": {
				SchemaID: SchemaID, Ticker: "ACME", PeriodID: "CY2025Q2",
				Provenance: Provenance{UpdatedAt: strptr("2025-04-01")},
			},
			"ICUI::CY2025Q3": {
				SchemaID: SchemaID, Ticker: "ICUI", PeriodID: "CY2025Q3",
				Provenance: Provenance{UpdatedAt: strptr("2025-05-20T10:00:00Z")},
			},
		},
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid snapshot", func(t *testing.T) {
		path := writeCache(t, testCache())
		cache, err := Load(path)
		require.NoError(t, err)
		assert.Len(t, cache.Facts, 3)
		assert.Equal(t, "2025-06-01T00:00:00Z", cache.Meta.GeneratedAt)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnavailable))
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := Load(path)
		assert.True(t, errors.Is(err, ErrUnavailable))
	})

	t.Run("missing facts map", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nofacts.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"meta":{"generated_at":"x","source":"y"}}`), 0o644))
		_, err := Load(path)
		assert.True(t, errors.Is(err, ErrUnavailable))
	})
}

func TestLookupExact(t *testing.T) {
	cache := testCache()

	record := cache.Lookup("ICUI", "CY2025Q3")
	require.NotNil(t, record)
	assert.Equal(t, "ICUI", record.Ticker)
	assert.Equal(t, "CY2025Q3", record.PeriodID)

	t.Run("ticker is case-normalized", func(t *testing.T) {
		record := cache.Lookup("icui", "CY2025Q3")
		require.NotNil(t, record)
		assert.Equal(t, "ICUI", record.Ticker)
	})

	t.Run("unknown period", func(t *testing.T) {
		assert.Nil(t, cache.Lookup("ICUI", "CY2030Q1"))
	})
}

func TestLookupLatestByTicker(t *testing.T) {
	cache := testCache()

	record := cache.Lookup("ACME", "")
	require.NotNil(t, record)
	assert.Equal(t, "CY2025Q2", record.PeriodID, "latest updated_at wins")

	t.Run("unknown ticker", func(t *testing.T) {
		assert.Nil(t, cache.Lookup("NOPE", ""))
	})

	t.Run("missing timestamps sort as epoch", func(t *testing.T) {
		cache := CacheFile{Facts: map[string]Record{
			"ZZZ::CY2024Q4": {Ticker: "ZZZ", PeriodID: "CY2024Q4"},
			"ZZZ::CY2025Q1": {
				Ticker: "ZZZ", PeriodID: "CY2025Q1",
				Provenance: Provenance{UpdatedAt: strptr("2025-01-15")},
			},
		}}
		record := cache.Lookup("zzz", "")
		require.NotNil(t, record)
		assert.Equal(t, "CY2025Q1", record.PeriodID)
	})

	t.Run("ties resolve to first sorted key", func(t *testing.T) {
		cache := CacheFile{Facts: map[string]Record{
			"TIE::CY2025Q2": {
				Ticker: "TIE", PeriodID: "CY2025Q2",
				Provenance: Provenance{UpdatedAt: strptr("2025-03-01")},
			},
			"TIE::CY2025Q1": {
				Ticker: "TIE", PeriodID: "CY2025Q1",
				Provenance: Provenance{UpdatedAt: strptr("2025-03-01")},
			},
		}}
		record := cache.Lookup("TIE", "")
		require.NotNil(t, record)
		assert.Equal(t, "CY2025Q1", record.PeriodID)
	})
}

func TestList(t *testing.T) {
	cache := testCache()
	list := cache.List()
	require.Len(t, list, 3)
	assert.Equal(t, "ACME", list[0].Ticker)
	assert.Equal(t, "CY2025Q1", list[0].PeriodID)
	assert.Equal(t, "ICUI", list[2].Ticker)
}
