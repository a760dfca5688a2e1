// Package slicing derives spans from source files with line- and
// brace-based heuristics: declaration blocks for brace languages, indent
// blocks for Python-style languages, heading sections for markdown, and
// fixed line windows for everything else. It is deliberately parser-free;
// span identity comes from content hashes, so an imprecise boundary costs
// one re-enrichment, never correctness.
package slicing

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/llmc-dev/ragd/domain/index"
)

// maxBlockLines caps one span: runaway brace counting (braces inside string
// literals) and window slicing both cut at this many lines.
const maxBlockLines = 400

// windowLines is the span size for languages sliced into flat windows.
const windowLines = 60

// maxDocHintChars caps the doc hint carried on a span.
const maxDocHintChars = 160

// Heuristic implements index.Extractor without an AST.
type Heuristic struct{}

// NewHeuristic creates the fallback extractor.
func NewHeuristic() Heuristic {
	return Heuristic{}
}

// Extract derives spans from one file's content. The content is the only
// input; no I/O happens here.
func (h Heuristic) Extract(path, lang string, content []byte) []index.Span {
	if len(content) == 0 {
		return nil
	}

	src := newSource(lang, content)
	switch familyOf(lang) {
	case familyBraces:
		return h.braceBlocks(src)
	case familyIndent:
		return h.indentBlocks(src, lang)
	case familyHeadings:
		return h.headingSections(src, path)
	default:
		return h.windows(src, path)
	}
}

// source is one file's lines with byte offsets, so spans can carry exact
// byte ranges for hashing.
type source struct {
	lang    string
	content []byte
	lines   []string
	starts  []int
	// count excludes the phantom empty element a trailing newline creates.
	count int
}

func newSource(lang string, content []byte) source {
	text := string(content)
	lines := strings.Split(text, "\n")
	starts := make([]int, len(lines))
	off := 0
	for i, ln := range lines {
		starts[i] = off
		off += len(ln) + 1
	}

	count := len(lines)
	if count > 0 && lines[count-1] == "" && strings.HasSuffix(text, "\n") {
		count--
	}
	return source{lang: lang, content: content, lines: lines, starts: starts, count: count}
}

// span builds a Span for the 1-based inclusive line range, hashing the
// exact byte range (trailing newline of the last line included).
func (s source) span(symbol string, kind index.Kind, startLine, endLine int, docHint string) index.Span {
	byteStart := int64(s.starts[startLine-1])
	byteEnd := int64(len(s.content))
	if endLine < len(s.lines) {
		byteEnd = int64(s.starts[endLine])
	}
	return index.NewSpan(symbol, kind, startLine, endLine, byteStart, byteEnd,
		index.HashSpan(s.lang, s.content[byteStart:byteEnd]), docHint)
}

// declPattern locates a declaration start and names it.
type declPattern struct {
	re   *regexp.Regexp
	kind index.Kind
}

var ecmaPatterns = []declPattern{
	{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`), index.KindFunction},
	{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), index.KindClass},
	{regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=`), index.KindFunction},
}

var bracePatterns = map[string][]declPattern{
	"go": {
		{regexp.MustCompile(`^func\s+\([^)]*\)\s*([A-Za-z_][A-Za-z0-9_]*)`), index.KindMethod},
		{regexp.MustCompile(`^func\s+([A-Za-z_][A-Za-z0-9_]*)`), index.KindFunction},
		{regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`), index.KindClass},
	},
	"javascript": ecmaPatterns,
	"typescript": ecmaPatterns,
	"rust": {
		{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`), index.KindFunction},
		{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`), index.KindClass},
		{regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(?:[A-Za-z_][A-Za-z0-9_:<>]*\s+for\s+)?([A-Za-z_][A-Za-z0-9_]*)`), index.KindClass},
	},
}

// genericDecl matches the common shape of a declaration in brace languages
// the table does not model: identifiers then an opening paren or brace.
var genericDecl = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*[({]`)

var genericClassKeywords = []string{"class ", "struct ", "interface ", "enum ", "message ", "resource "}

// braceBlocks emits one span per top-level declaration block, delimited by
// brace balance starting from a column-zero declaration line.
func (h Heuristic) braceBlocks(src source) []index.Span {
	var spans []index.Span

	i := 0
	for i < src.count {
		line := src.lines[i]
		if !startsDeclaration(line) {
			i++
			continue
		}

		symbol, kind, ok := matchDecl(src.lang, line)
		if !ok {
			i++
			continue
		}

		end, found := braceBlockEnd(src, i)
		if !found {
			i++
			continue
		}

		hint := precedingComment(src, i)
		spans = append(spans, src.span(symbol, kind, i+1, end+1, hint))
		i = end + 1
	}
	return spans
}

// startsDeclaration filters column-zero lines that can begin a block.
func startsDeclaration(line string) bool {
	if line == "" {
		return false
	}
	c := line[0]
	if c == ' ' || c == '\t' || c == '}' || c == ')' || c == ']' {
		return false
	}
	return !isCommentLine(line)
}

func matchDecl(lang, line string) (string, index.Kind, bool) {
	for _, p := range bracePatterns[lang] {
		if m := p.re.FindStringSubmatch(line); m != nil {
			return m[1], p.kind, true
		}
	}

	m := genericDecl.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	kind := index.KindBlock
	for _, kw := range genericClassKeywords {
		if strings.Contains(line, kw) {
			kind = index.KindClass
			break
		}
	}
	return m[1], kind, true
}

// braceBlockEnd scans forward from the declaration line until the brace
// depth returns to zero. The block must open within three lines; counting
// is naive about braces inside strings, which the cap bounds.
func braceBlockEnd(src source, start int) (int, bool) {
	depth := 0
	opened := false
	limit := min(start+maxBlockLines, src.count)

	for i := start; i < limit; i++ {
		for _, r := range src.lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i, true
		}
		if !opened && i >= start+2 {
			return 0, false
		}
	}
	if opened {
		// Unbalanced within the cap: cut the block at the cap.
		return limit - 1, true
	}
	return 0, false
}

var indentDecl = regexp.MustCompile(`^(\s*)(?:async\s+)?(def|class)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// indentBlocks emits one span per def/class block. A block ends before the
// first non-blank line at or below the declaration's indent. Ruby's
// trailing `end` keyword at the declaration indent is included.
func (h Heuristic) indentBlocks(src source, lang string) []index.Span {
	var spans []index.Span

	for i := 0; i < src.count; i++ {
		m := indentDecl.FindStringSubmatch(src.lines[i])
		if m == nil {
			continue
		}
		indent := len(m[1])

		kind := index.KindFunction
		if m[2] == "class" {
			kind = index.KindClass
		} else if indent > 0 {
			kind = index.KindMethod
		}

		end := i
		for j := i + 1; j < min(i+maxBlockLines, src.count); j++ {
			line := src.lines[j]
			if strings.TrimSpace(line) == "" {
				continue
			}
			if lineIndent(line) <= indent {
				if lang == "ruby" && strings.TrimSpace(line) == "end" && lineIndent(line) == indent {
					end = j
				}
				break
			}
			end = j
		}
		if end == i {
			continue
		}

		hint := precedingComment(src, i)
		spans = append(spans, src.span(m[3], kind, i+1, end+1, hint))
	}
	return spans
}

var mdHeading = regexp.MustCompile(`^#{1,6}\s+(.*)$`)

// headingSections splits markdown on headings, treating fenced code blocks
// as opaque. Content before the first heading becomes a preamble section.
func (h Heuristic) headingSections(src source, path string) []index.Span {
	type section struct {
		title string
		start int
	}

	var sections []section
	inFence := false
	for i := 0; i < src.count; i++ {
		line := src.lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeading.FindStringSubmatch(line); m != nil {
			sections = append(sections, section{title: strings.TrimSpace(m[1]), start: i})
		}
	}

	var spans []index.Span
	emit := func(title string, start, end int) {
		if end < start {
			return
		}
		if blankRange(src, start, end) {
			return
		}
		spans = append(spans, src.span(truncate(title, 120), index.KindSection, start+1, end+1, ""))
	}

	if len(sections) == 0 {
		emit(filepath.Base(path), 0, src.count-1)
		return spans
	}
	if sections[0].start > 0 {
		emit(filepath.Base(path)+" (preamble)", 0, sections[0].start-1)
	}
	for i, sec := range sections {
		end := src.count - 1
		if i+1 < len(sections) {
			end = sections[i+1].start - 1
		}
		emit(sec.title, sec.start, end)
	}
	return spans
}

// windows slices unstructured files into consecutive fixed-size spans.
func (h Heuristic) windows(src source, path string) []index.Span {
	var spans []index.Span
	base := filepath.Base(path)

	for start, n := 0, 1; start < src.count; start, n = start+windowLines, n+1 {
		end := min(start+windowLines, src.count) - 1
		if blankRange(src, start, end) {
			continue
		}
		symbol := fmt.Sprintf("%s#%d", base, n)
		spans = append(spans, src.span(symbol, index.KindBlock, start+1, end+1, ""))
	}
	return spans
}

func blankRange(src source, start, end int) bool {
	for i := start; i <= end; i++ {
		if strings.TrimSpace(src.lines[i]) != "" {
			return false
		}
	}
	return true
}

func lineIndent(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

var commentPrefixes = []string{"//", "#", "/*", "*", "--", "'''", `"""`}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range commentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// precedingComment returns the first line of the comment block immediately
// above the declaration, stripped of comment markers.
func precedingComment(src source, declLine int) string {
	top := declLine
	for top > 0 && isCommentLine(src.lines[top-1]) {
		top--
	}
	if top == declLine {
		return ""
	}

	text := strings.TrimSpace(src.lines[top])
	for _, p := range []string{"///", "//!", "//", "/*", "#", "--", "*"} {
		if strings.HasPrefix(text, p) {
			text = strings.TrimSpace(strings.TrimPrefix(text, p))
			break
		}
	}
	return truncate(text, maxDocHintChars)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
