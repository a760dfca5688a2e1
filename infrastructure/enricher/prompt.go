package enricher

import (
	"fmt"
	"strings"

	"github.com/llmc-dev/ragd/domain/index"
)

// systemPrompt is the fixed schema contract. The validator is authoritative;
// the prompt just maximizes the odds of a first-pass accept.
const systemPrompt = `You are a code analysis engine. You receive one source span and respond with exactly one minified JSON object and nothing else: no markdown fences, no prose, no explanation.

The object uses exactly these keys (omit empty ones, never add others):
{"summary_120w":"what the span does and why, at most 120 words","inputs":["parameters or data consumed"],"outputs":["return values or data produced"],"side_effects":["I/O, mutations, global state"],"pitfalls":["sharp edges a caller must know"],"usage_snippet":"minimal usage example, at most 12 lines","evidence":[{"field":"summary_120w","lines":[12,34]}],"tags":["short","lowercase","topics"]}

Every evidence entry cites the line numbers (shown in the input) that support one field. Line numbers must stay within the span. Respond with minified JSON only.`

// BuildPrompt renders the system and user messages for one work item. The
// snippet is numbered with absolute file line numbers so the model can cite
// evidence the validator will accept.
func BuildPrompt(item index.WorkItem) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nLanguage: %s\nSpan: lines %d-%d\n\n",
		item.Path(), item.Lang(), item.StartLine(), item.EndLine())

	for i, line := range strings.Split(item.Snippet(), "\n") {
		fmt.Fprintf(&b, "%d\t%s\n", item.StartLine()+i, line)
	}

	return systemPrompt, b.String()
}
