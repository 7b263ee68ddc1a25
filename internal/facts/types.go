// Package facts defines the ledger-derived fact corpus and the point-lookup
// cache served to paying clients. Records are immutable once written; the
// builder replaces the whole snapshot, never individual entries.
package facts

// SchemaID identifies the fact record schema served by this corpus.
const SchemaID = "SEC_EPS_V1"

// Metric labels hashed into the stable on-chain lookup keys.
const (
	MetricNonGaapEPS   = "non-gaap:EPS"
	MetricConsensusEPS = "consensus_eps"
)

// Record is a single financial fact for one ticker/period, uniquely keyed by
// "TICKER::period_id" in the corpus.
type Record struct {
	SchemaID           string              `json:"schema_id"`
	Ticker             string              `json:"ticker"`
	PeriodID           string              `json:"period_id"`
	PeriodHash         string              `json:"period_hash"`
	TickerHash         string              `json:"ticker_hash"`
	MetricIDs          MetricIDs           `json:"metric_ids"`
	NonGaapEPS         *float64            `json:"non_gaap_eps"`
	ConsensusEPS       *float64            `json:"consensus_eps"`
	MarketConsensusEPS *float64            `json:"market_consensus_eps"`
	MarketURL          *string             `json:"market_url"`
	MarketOutcome      *string             `json:"market_outcome"`
	Provenance         Provenance          `json:"provenance"`
	Attestation        AttestationSnapshot `json:"attestation_snapshot"`
}

// MetricIDs holds the keccak256 hashes of the fixed metric labels, the keys
// the oracle contract is queried with.
type MetricIDs struct {
	NonGaapEPS   string `json:"non_gaap_eps"`
	ConsensusEPS string `json:"consensus_eps"`
}

// Provenance points back at the filing the fact was extracted from.
// UpdatedAt is the tie-break field for recency ordering and dedupe.
type Provenance struct {
	FilingURL  *string `json:"filing_url"`
	ExhibitURL *string `json:"exhibit_url"`
	DedupeID   *string `json:"dedupe_id"`
	UpdatedAt  *string `json:"updated_at"`
}

// AttestationSnapshot carries the ledger-side attestation claims. These are
// not chain-confirmed; the reconciler fetches the on-chain record per request.
type AttestationSnapshot struct {
	TxHash       *string `json:"tx_hash"`
	EvidenceHash *string `json:"evidence_hash"`
	URLHash      *string `json:"url_hash"`
	ObservedAt   *int64  `json:"observed_at"`
}

// Meta describes a corpus snapshot generation.
type Meta struct {
	GeneratedAt string `json:"generated_at"`
	Source      string `json:"source"`
}

// CacheFile is a full corpus snapshot. Invariant: every key equals
// record.Ticker + "::" + record.PeriodID.
type CacheFile struct {
	Meta  Meta              `json:"meta"`
	Facts map[string]Record `json:"facts"`
}

// Key builds the corpus key for a ticker/period pair.
func Key(ticker, periodID string) string {
	return ticker + "::" + periodID
}
