package routing

// WeakRetrievalScore is the average score below which retrieval context is
// considered too weak to trust the smallest tier.
const WeakRetrievalScore = 0.25

// Retrieval summarizes the retrieval context gathered for a task. K is the
// number of retrieved rows.
type Retrieval struct {
	K        int
	AvgScore float64
}

// Weak returns true if the retrieval context is absent or low-scoring.
func (r Retrieval) Weak() bool {
	return r.K == 0 || r.AvgScore < WeakRetrievalScore
}

// Metrics are the measured inputs to initial tier selection. Retrieval is
// nil when no retrieval context was gathered for the task.
type Metrics struct {
	TokensIn      int
	TokensOut     int
	LineCount     int
	NestingDepth  int
	NodeCount     int
	SchemaDepth   int
	ArrayElements int
	CSVColumns    int
	Retrieval     *Retrieval
}

// Thresholds are the configured limits for initial tier selection.
type Thresholds struct {
	ContextLimit int
	Headroom     int
	NodeLimit    int
	DepthLimit   int
	ArrayLimit   int
	CSVLimit     int
	NestingLimit int
	LineLow      int
	LineHigh     int
	DefaultTier  Tier
	PromoteOnce  bool
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ContextLimit: 8192,
		Headroom:     1024,
		NodeLimit:    800,
		DepthLimit:   6,
		ArrayLimit:   5000,
		CSVLimit:     60,
		NestingLimit: 3,
		LineLow:      60,
		LineHigh:     100,
		DefaultTier:  Tier7B,
		PromoteOnce:  true,
	}
}

// SelectInitial returns the starting tier for a task. An explicit valid
// override wins over every rule. Otherwise the rules apply in order: context
// overflow and structural complexity route to the gateway, long or deeply
// nested spans route to the middle tier, everything else takes the default
// tier. A weak retrieval signal upgrades the smallest tier one step.
func SelectInitial(m Metrics, t Thresholds, override Tier) Tier {
	if override.IsValid() {
		return override
	}

	fallback := t.DefaultTier
	if !fallback.IsValid() {
		fallback = Tier7B
	}

	var tier Tier
	switch {
	case m.TokensIn+m.TokensOut > t.ContextLimit-t.Headroom:
		return TierNano
	case m.NodeCount > t.NodeLimit || m.SchemaDepth > t.DepthLimit ||
		m.ArrayElements > t.ArrayLimit || m.CSVColumns > t.CSVLimit:
		return TierNano
	case m.LineCount > t.LineHigh:
		tier = Tier14B
	case m.LineCount > t.LineLow || m.NestingDepth > t.NestingLimit:
		tier = Tier14B
	default:
		tier = fallback
	}

	if tier == Tier7B && m.Retrieval != nil && m.Retrieval.Weak() {
		tier = Tier14B
	}
	return tier
}

// Promote returns the tier that should retry a failed task, or false when
// the task must stop. promoteOnce=false disables promotion entirely; the
// gateway tier has nowhere left to go. Callers enforce the visit-once rule
// against their own tier history.
func Promote(current Tier, kind FailureKind, promoteOnce bool) (Tier, bool) {
	if !promoteOnce {
		return "", false
	}

	switch current {
	case Tier7B:
		switch kind {
		case FailureTruncation:
			return TierNano, true
		case FailureParse, FailureValidation, FailureNoEvidence:
			return Tier14B, true
		default:
			// timeout, runtime, unknown
			return TierNano, true
		}
	case Tier14B:
		return TierNano, true
	default:
		return "", false
	}
}
