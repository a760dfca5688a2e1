package enricher

import (
	"errors"
	"strings"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/domain/routing"
	"github.com/llmc-dev/ragd/infrastructure/provider"
)

// StripThinking removes <think>...</think> blocks from model output. Local
// reasoning models (Qwen among them) emit these before the answer; they are
// never part of the payload.
func StripThinking(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start == -1 {
			return text
		}
		end := strings.Index(text, "</think>")
		if end == -1 {
			// Unclosed tag: drop the opener and keep whatever followed.
			text = text[:start] + text[start+len("<think>"):]
			continue
		}
		text = text[:start] + text[end+len("</think>"):]
	}
}

// ExtractJSON returns the outermost {...} object in a completion body.
// Models wrap JSON in fences or prose often enough that taking the first
// `{` through the last `}` is the reliable move. ok is false when no object
// boundaries exist.
func ExtractJSON(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// Truncated reports whether a completion looks cut off: the backend said so
// via finish reason, the braces are short by more than one closer, or the
// text stops mid-token.
func Truncated(finishReason, content string) bool {
	switch finishReason {
	case "length", "max_tokens":
		return true
	}

	deficit := strings.Count(content, "{") - strings.Count(content, "}") +
		strings.Count(content, "[") - strings.Count(content, "]")
	if deficit > 1 {
		return true
	}

	trimmed := strings.TrimRight(content, " \t\r\n")
	if trimmed == "" {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '}', ']', '"':
		return false
	}
	return true
}

// Classify maps an attempt error to the failure kind that drives promotion.
// Malformed JSON is checked against the truncation signals first; schema
// violations (from decode or validation) are always validation failures;
// transport problems split into timeout and runtime.
func Classify(err error, finishReason, content string) routing.FailureKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, index.ErrNotJSON) {
		if Truncated(finishReason, content) {
			return routing.FailureTruncation
		}
		return routing.FailureParse
	}

	var schemaErr *index.SchemaError
	if errors.As(err, &schemaErr) {
		return routing.FailureValidation
	}

	if provider.IsTimeout(err) {
		return routing.FailureTimeout
	}
	return routing.FailureRuntime
}
