// Package routing decides which model tier serves an enrichment task: a
// pure mapping from span and prompt metrics to a starting tier, and from
// classified failures to the next tier.
package routing

import "fmt"

// Tier identifies a completion model class. TierNano delegates to the
// remote gateway, which has the largest context window.
type Tier string

// Tier values.
const (
	Tier7B   Tier = "7b"
	Tier14B  Tier = "14b"
	TierNano Tier = "nano"
)

// IsValid returns true if the tier is one of the known values.
func (t Tier) IsValid() bool {
	switch t {
	case Tier7B, Tier14B, TierNano:
		return true
	}
	return false
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// FailureKind classifies why an enrichment attempt failed. The kind drives
// promotion: truncation always escalates to the gateway, schema trouble
// escalates one tier.
type FailureKind string

// FailureKind values.
const (
	FailureTruncation FailureKind = "truncation"
	FailureParse      FailureKind = "parse"
	FailureValidation FailureKind = "validation"
	FailureNoEvidence FailureKind = "no_evidence"
	FailureTimeout    FailureKind = "timeout"
	FailureRuntime    FailureKind = "runtime"
	FailureUnknown    FailureKind = "unknown"
)
