// Package ledger turns the append-only posting ledger (newline-delimited
// JSON, one posting event per line) into the corpus snapshot the fact cache
// serves. Single-writer, single-pass, offline.
package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/evm"
	"github.com/sabaki-ai/factgate/internal/facts"
)

// row is one posting event as it appears in the ledger. Numeric fields are
// loosely typed upstream (numbers or numeric strings), so they decode into
// interface{} and go through CoerceNumber.
type row struct {
	Status             string      `json:"status"`
	Ticker             string      `json:"ticker"`
	PeriodID           string      `json:"periodId"`
	Updated            string      `json:"updated"`
	Time               string      `json:"time"`
	NonGaapEPS         interface{} `json:"non_gaap_eps"`
	ConsensusEPS       interface{} `json:"consensus_eps"`
	MarketConsensusEPS interface{} `json:"market_consensus_eps"`
	MarketURL          string      `json:"market_url"`
	MarketOutcome      string      `json:"market_outcome"`
	FilingURL          string      `json:"filing_url"`
	ExhibitURL         string      `json:"exhibit_url"`
	DedupeID           string      `json:"dedupe_id"`
	TxHashes           []string    `json:"tx_hashes"`
	TxHash             string      `json:"tx_hash"`
	EvidenceHashActual string      `json:"evidence_hash_actual"`
	URLHashActual      string      `json:"url_hash_actual"`
	ObservedAt         *int64      `json:"observed_at"`
}

func (r *row) updatedAt() string {
	if r.Updated != "" {
		return r.Updated
	}
	return r.Time
}

// Result summarizes a completed build.
type Result struct {
	Facts       int    `json:"facts"`
	GeneratedAt string `json:"generated_at"`
	Cache       string `json:"cache"`
}

// Build ingests the ledger at input and writes a full corpus snapshot to out.
// Lines that fail to parse, carry a status other than "posted", or lack a
// ticker or period are skipped. Duplicate "TICKER::period" keys are resolved
// last-write-wins: a row displaces the incumbent when its updated timestamp
// is greater than or equal, so among equal timestamps the later-read line
// wins. limit > 0 caps the number of posted rows considered.
func Build(input, out string, limit int) (*Result, error) {
	file, err := os.Open(input)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: open %s", input)
	}
	defer file.Close()

	log := zap.L()

	retained := map[string]row{}
	order := []string{}
	processed := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var r row
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			log.Warn("skipping malformed ledger line",
				zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if !strings.EqualFold(r.Status, "posted") {
			continue
		}
		ticker := strings.ToUpper(r.Ticker)
		if ticker == "" || r.PeriodID == "" {
			continue
		}
		r.Ticker = ticker

		key := facts.Key(ticker, r.PeriodID)
		existing, ok := retained[key]
		if !ok {
			order = append(order, key)
			retained[key] = r
		} else if parseTimestamp(r.updatedAt()) >= parseTimestamp(existing.updatedAt()) {
			retained[key] = r
		}

		processed++
		if limit > 0 && processed >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "ledger: scan %s", input)
	}

	snapshot := facts.CacheFile{
		Meta: facts.Meta{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Source:      input,
		},
		Facts: make(map[string]facts.Record, len(retained)),
	}
	for _, key := range order {
		snapshot.Facts[key] = buildRecord(retained[key])
	}

	if err := writeSnapshot(out, &snapshot); err != nil {
		return nil, err
	}

	return &Result{
		Facts:       len(snapshot.Facts),
		GeneratedAt: snapshot.Meta.GeneratedAt,
		Cache:       out,
	}, nil
}

func buildRecord(r row) facts.Record {
	return facts.Record{
		SchemaID:   facts.SchemaID,
		Ticker:     r.Ticker,
		PeriodID:   r.PeriodID,
		PeriodHash: evm.HashLabel(r.PeriodID).Hex(),
		TickerHash: evm.HashLabel(r.Ticker).Hex(),
		MetricIDs: facts.MetricIDs{
			NonGaapEPS:   evm.HashLabel(facts.MetricNonGaapEPS).Hex(),
			ConsensusEPS: evm.HashLabel(facts.MetricConsensusEPS).Hex(),
		},
		NonGaapEPS:         CoerceNumber(r.NonGaapEPS),
		ConsensusEPS:       CoerceNumber(r.ConsensusEPS),
		MarketConsensusEPS: CoerceNumber(r.MarketConsensusEPS),
		MarketURL:          optional(r.MarketURL),
		MarketOutcome:      optional(r.MarketOutcome),
		Provenance: facts.Provenance{
			FilingURL:  optional(r.FilingURL),
			ExhibitURL: optional(r.ExhibitURL),
			DedupeID:   optional(r.DedupeID),
			UpdatedAt:  optional(r.updatedAt()),
		},
		Attestation: facts.AttestationSnapshot{
			TxHash:       firstTxHash(r),
			EvidenceHash: optional(r.EvidenceHashActual),
			URLHash:      optional(r.URLHashActual),
			ObservedAt:   r.ObservedAt,
		},
	}
}

// CoerceNumber leniently parses a loosely-typed numeric field: JSON numbers
// pass through, numeric strings parse, everything else becomes nil rather
// than rejecting the row.
func CoerceNumber(value interface{}) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func firstTxHash(r row) *string {
	for _, tx := range r.TxHashes {
		if tx != "" {
			return &tx
		}
	}
	return optional(r.TxHash)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTimestamp(value string) int64 {
	if value == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UnixMilli()
	}
	return 0
}

// writeSnapshot creates the output directory as needed and replaces the
// snapshot via temp file + rename, so readers never observe a partial write.
func writeSnapshot(out string, snapshot *facts.CacheFile) error {
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "ledger: mkdir %s", dir)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return eris.Wrap(err, "ledger: marshal snapshot")
	}

	tmp, err := os.CreateTemp(dir, ".facts_cache-*.json")
	if err != nil {
		return eris.Wrap(err, "ledger: create temp snapshot")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "ledger: write temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "ledger: close temp snapshot")
	}
	if err := os.Rename(tmpName, out); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "ledger: rename snapshot to %s", out)
	}
	return nil
}
