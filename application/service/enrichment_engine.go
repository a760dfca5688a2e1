package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/domain/routing"
	"github.com/llmc-dev/ragd/infrastructure/enricher"
	"github.com/llmc-dev/ragd/infrastructure/provider"
	"github.com/llmc-dev/ragd/internal/config"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// EnrichmentEngine drives the tier loop for one repository's spans: compute
// metrics, pick a starting tier, call the model, extract and validate the
// payload, promote on failure, and persist the outcome. The validator is
// authoritative; model output is never trusted.
type EnrichmentEngine struct {
	store      index.Store
	local      provider.TextGenerator
	gateway    provider.TextGenerator
	tiers      config.TierModels
	localCfg   config.Endpoint
	gatewayCfg config.Endpoint
	thresholds routing.Thresholds
	ledger     *enricher.Ledger
	quarantine enricher.Quarantine
	writeEdges bool
	logger     *slog.Logger
}

// NewEnrichmentEngine creates an engine over one repo's index store.
// writeEdges turns validated payload fields into tech-docs graph edges.
func NewEnrichmentEngine(
	cfg config.AppConfig,
	store index.Store,
	local provider.TextGenerator,
	gateway provider.TextGenerator,
	ledger *enricher.Ledger,
	quarantine enricher.Quarantine,
	writeEdges bool,
	logger *slog.Logger,
) *EnrichmentEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichmentEngine{
		store:      store,
		local:      local,
		gateway:    gateway,
		tiers:      cfg.TierModels(),
		localCfg:   cfg.Local(),
		gatewayCfg: cfg.Gateway(),
		thresholds: ThresholdsFrom(cfg.Router()),
		ledger:     ledger,
		quarantine: quarantine,
		writeEdges: writeEdges,
		logger:     logger,
	}
}

// ThresholdsFrom converts the configured router limits into the routing
// domain's threshold set.
func ThresholdsFrom(rc config.RouterConfig) routing.Thresholds {
	tier, err := routing.ParseTier(rc.DefaultTier())
	if err != nil {
		tier = routing.Tier7B
	}
	return routing.Thresholds{
		ContextLimit: rc.ContextLimit(),
		Headroom:     rc.Headroom(),
		NodeLimit:    rc.NodeLimit(),
		DepthLimit:   rc.DepthLimit(),
		ArrayLimit:   rc.ArrayLimit(),
		CSVLimit:     rc.CSVLimit(),
		NestingLimit: rc.NestingLimit(),
		LineLow:      rc.LineLow(),
		LineHigh:     rc.LineHigh(),
		DefaultTier:  tier,
		PromoteOnce:  rc.PromoteOnce(),
	}
}

// EnrichBatch runs the tier loop for each item in order. Model and payload
// failures are absorbed into the fail count; only store write errors and
// context cancellation abort the batch.
func (e *EnrichmentEngine) EnrichBatch(ctx context.Context, items []index.WorkItem) (passed, failed int, err error) {
	for _, item := range items {
		if ctx.Err() != nil {
			return passed, failed, ctx.Err()
		}
		ok, err := e.EnrichOne(ctx, item)
		if err != nil {
			return passed, failed, err
		}
		if ok {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed, nil
}

// EnrichOne resolves one span: at most one attempt per tier, promoting on
// failure until the payload validates or no tier remains. The returned bool
// reports whether an enrichment was persisted; the error is reserved for
// store writes.
func (e *EnrichmentEngine) EnrichOne(ctx context.Context, item index.WorkItem) (bool, error) {
	start := time.Now()
	m := enricher.ComputeMetrics(item.Snippet(), item.Lang())
	system, user := enricher.BuildPrompt(item)

	current := routing.SelectInitial(m, e.thresholds, "")
	var history []routing.Tier
	var lastKind routing.FailureKind
	var lastRaw string

	for {
		history = append(history, current)

		payload, raw, kind := e.attempt(ctx, current, system, user, item)
		if raw != "" {
			lastRaw = raw
		}

		if kind == "" {
			metrics.EnrichmentAttempts.WithLabelValues(string(current), enricher.ResultPass).Inc()
			if err := e.persist(ctx, item, payload, current); err != nil {
				return false, err
			}
			e.appendLedger(item, m, history, current, enricher.ResultPass, "", "", start)
			return true, nil
		}

		metrics.EnrichmentAttempts.WithLabelValues(string(current), enricher.ResultFail).Inc()
		e.logger.Debug("enrichment attempt failed",
			slog.String("span_hash", item.SpanHash()),
			slog.String("tier", string(current)),
			slog.String("kind", string(kind)),
		)
		lastKind = kind

		next, ok := routing.Promote(current, kind, e.thresholds.PromoteOnce)
		if !ok || slices.Contains(history, next) {
			break
		}
		current = next
	}

	quarantinePath := ""
	if (lastKind == routing.FailureTruncation || lastKind == routing.FailureParse) && lastRaw != "" {
		path, qerr := e.quarantine.Save(item.SpanHash(), current, lastRaw)
		if qerr != nil {
			e.logger.Warn("quarantine write failed",
				slog.String("span_hash", item.SpanHash()),
				slog.String("error", qerr.Error()),
			)
		} else {
			quarantinePath = path
		}
	}

	if _, err := e.store.IncrementSpanFailure(ctx, item.SpanHash()); err != nil {
		return false, err
	}
	e.appendLedger(item, m, history, current, enricher.ResultFail, lastKind, quarantinePath, start)
	return false, nil
}

// attempt makes one model call on the given tier and walks the response
// through extraction, normalization, and validation. An empty FailureKind
// means the payload is good.
func (e *EnrichmentEngine) attempt(
	ctx context.Context,
	tier routing.Tier,
	system, user string,
	item index.WorkItem,
) (index.Payload, string, routing.FailureKind) {
	resp, err := e.complete(ctx, tier, system, user)
	if err != nil {
		return index.Payload{}, "", enricher.Classify(err, "", "")
	}

	raw := enricher.StripThinking(resp.Content())
	body, found := enricher.ExtractJSON(raw)
	if !found {
		return index.Payload{}, raw, enricher.Classify(index.ErrNotJSON, resp.FinishReason(), raw)
	}

	payload, err := index.DecodePayload([]byte(body))
	if err != nil {
		return index.Payload{}, raw, enricher.Classify(err, resp.FinishReason(), raw)
	}

	payload = payload.Normalize(item.StartLine(), item.EndLine())
	if err := payload.Validate(item.StartLine(), item.EndLine()); err != nil {
		return index.Payload{}, raw, enricher.Classify(err, resp.FinishReason(), raw)
	}
	return payload, raw, ""
}

// complete calls the tier's backend with the tier's per-call timeout.
func (e *EnrichmentEngine) complete(ctx context.Context, tier routing.Tier, system, user string) (provider.ChatCompletionResponse, error) {
	backend := e.local
	model := ""
	maxTokens := e.localCfg.MaxTokens()
	var timeout time.Duration

	switch tier {
	case routing.TierNano:
		backend = e.gateway
		maxTokens = e.gatewayCfg.MaxTokens()
		timeout = e.gatewayCfg.Timeout()
	case routing.Tier14B:
		model = e.tiers.Model14B()
		timeout = e.tiers.Timeout14B()
	default:
		model = e.tiers.Model7B()
		timeout = e.tiers.Timeout7B()
	}

	req := provider.NewChatCompletionRequest([]provider.Message{
		provider.SystemMessage(system),
		provider.UserMessage(user),
	}).WithMaxTokens(maxTokens)
	if model != "" {
		req = req.WithModel(model)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return backend.ChatCompletion(ctx, req)
}

// persist stores the validated enrichment and, when enabled, its derived
// graph edges.
func (e *EnrichmentEngine) persist(ctx context.Context, item index.WorkItem, payload index.Payload, tier routing.Tier) error {
	enr := index.NewEnrichment(item.SpanHash(), payload, e.modelFor(tier), string(tier))
	if err := e.store.StoreEnrichment(ctx, enr); err != nil {
		return err
	}
	if !e.writeEdges {
		return nil
	}
	return e.store.WriteEdges(ctx, edgesFrom(item.SpanHash(), payload))
}

// modelFor names the concrete model serving a tier.
func (e *EnrichmentEngine) modelFor(tier routing.Tier) string {
	switch tier {
	case routing.TierNano:
		return e.gatewayCfg.Model()
	case routing.Tier14B:
		return e.tiers.Model14B()
	default:
		return e.tiers.Model7B()
	}
}

func (e *EnrichmentEngine) appendLedger(
	item index.WorkItem,
	m routing.Metrics,
	history []routing.Tier,
	tierUsed routing.Tier,
	result string,
	reason routing.FailureKind,
	quarantinePath string,
	start time.Time,
) {
	if e.ledger == nil {
		return
	}
	e.ledger.Append(enricher.LedgerRecord{
		SpanHash:   item.SpanHash(),
		Path:       item.Path(),
		Tiers:      history,
		TierUsed:   tierUsed,
		Model:      e.modelFor(tierUsed),
		Result:     result,
		Reason:     reason,
		LineCount:  m.LineCount,
		TokensIn:   m.TokensIn,
		WallMS:     time.Since(start).Milliseconds(),
		Quarantine: quarantinePath,
	})
}

// edgesFrom derives graph edges from a validated payload: declared inputs
// become REQUIRES targets, pitfalls become WARNS_ABOUT, tags become
// REFERENCES. Targets stay unresolved here; resolving them to span hashes
// is a graph builder's job.
func edgesFrom(spanHash string, p index.Payload) []index.Edge {
	var edges []index.Edge
	add := func(texts []string, t index.EdgeType) {
		for _, text := range texts {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			edges = append(edges, index.NewEdge(spanHash, "", text, t, 1.0))
		}
	}
	add(p.Inputs, index.EdgeRequires)
	add(p.Pitfalls, index.EdgeWarnsAbout)
	add(p.Tags, index.EdgeReferences)
	return edges
}
