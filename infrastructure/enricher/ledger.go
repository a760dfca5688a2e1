package enricher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/llmc-dev/ragd/domain/routing"
)

// Ledger record results.
const (
	ResultPass = "pass"
	ResultFail = "fail"
)

// LedgerRecord is one resolved enrichment task: the whole tier loop for one
// span, not one model call.
type LedgerRecord struct {
	SpanHash   string
	Path       string
	Tiers      []routing.Tier
	TierUsed   routing.Tier
	Model      string
	Result     string
	Reason     routing.FailureKind
	LineCount  int
	TokensIn   int
	WallMS     int64
	Quarantine string
}

// Promo renders a tier history as a promotion note ("7b->14b"). A history
// of one tier means no promotion and yields the empty string.
func Promo(tiers []routing.Tier) string {
	if len(tiers) < 2 {
		return ""
	}
	parts := make([]string, len(tiers))
	for i, t := range tiers {
		parts[i] = string(t)
	}
	return strings.Join(parts, "->")
}

// Ledger is the append-only JSONL record of enrichment attempts, one line
// per resolved task. It is the audit trail for tier routing decisions and
// feeds the per-span failure counter kept in the index store.
type Ledger struct {
	mu sync.Mutex
	f  *os.File
	lg zerolog.Logger
}

// OpenLedger opens the ledger at path for appending, creating parent
// directories as needed.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{f: f, lg: zerolog.New(f).With().Timestamp().Logger()}, nil
}

// Append writes one record. Appends are serialized so concurrent workers
// within a job never interleave lines.
func (l *Ledger) Append(rec LedgerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tiers := make([]string, len(rec.Tiers))
	for i, t := range rec.Tiers {
		tiers[i] = string(t)
	}

	ev := l.lg.Log().
		Str("span_hash", rec.SpanHash).
		Str("path", rec.Path).
		Strs("tiers", tiers).
		Str("tier_used", string(rec.TierUsed)).
		Str("result", rec.Result).
		Int("line_count", rec.LineCount).
		Int("tokens_in", rec.TokensIn).
		Int64("wall_ms", rec.WallMS)

	if rec.Model != "" {
		ev = ev.Str("model", rec.Model)
	}
	if promo := Promo(rec.Tiers); promo != "" {
		ev = ev.Str("promo", promo)
	}
	if rec.Reason != "" {
		ev = ev.Str("reason", string(rec.Reason))
	}
	if rec.Quarantine != "" {
		ev = ev.Str("quarantine", rec.Quarantine)
	}
	ev.Send()
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
