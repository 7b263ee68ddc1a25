package facts

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnavailable marks a corpus that could not be read or parsed. Callers
// match it with eris.Is to produce the cache_unavailable response.
var ErrUnavailable = eris.New("fact cache unavailable")

// Load reads and parses a corpus snapshot. A missing file, malformed JSON, or
// an absent facts map all surface as ErrUnavailable.
func Load(path string) (*CacheFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "facts: read %s: %v", path, err)
	}

	var cache CacheFile
	if err := json.Unmarshal(raw, &cache); err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "facts: parse %s: %v", path, err)
	}
	if cache.Facts == nil {
		return nil, eris.Wrapf(ErrUnavailable, "facts: %s missing facts map", path)
	}
	return &cache, nil
}

// Lookup resolves a record by ticker and optional period id. With a period it
// is an exact key match; without one it returns the record with the latest
// provenance.updated_at for the ticker. Unparsable or missing timestamps sort
// as epoch zero; ties resolve to the lexicographically first corpus key.
// Returns nil when nothing matches. Never mutates the snapshot.
func (c *CacheFile) Lookup(ticker, periodID string) *Record {
	normalized := strings.ToUpper(ticker)

	if periodID != "" {
		if record, ok := c.Facts[Key(normalized, periodID)]; ok {
			return &record
		}
		return nil
	}

	// Sorted key scan with strictly-greater displacement keeps the
	// latest-by-ticker choice deterministic across runs.
	keys := make([]string, 0, len(c.Facts))
	for key := range c.Facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var best *Record
	var bestAt time.Time
	for _, key := range keys {
		record := c.Facts[key]
		if record.Ticker != normalized {
			continue
		}
		at := parseUpdatedAt(record.Provenance.UpdatedAt)
		if best == nil || at.After(bestAt) {
			r := record
			best = &r
			bestAt = at
		}
	}
	return best
}

// Summary is one corpus entry as reported by List.
type Summary struct {
	Ticker    string  `json:"ticker"`
	PeriodID  string  `json:"period_id"`
	UpdatedAt *string `json:"updated_at"`
}

// List returns a sorted summary of every cached fact.
func (c *CacheFile) List() []Summary {
	out := make([]Summary, 0, len(c.Facts))
	for _, record := range c.Facts {
		out = append(out, Summary{
			Ticker:    record.Ticker,
			PeriodID:  record.PeriodID,
			UpdatedAt: record.Provenance.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].PeriodID < out[j].PeriodID
	})
	return out
}

func parseUpdatedAt(value *string) time.Time {
	if value == nil || *value == "" {
		return time.Unix(0, 0)
	}
	if t, err := time.Parse(time.RFC3339, *value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", *value); err == nil {
		return t
	}
	return time.Unix(0, 0)
}
