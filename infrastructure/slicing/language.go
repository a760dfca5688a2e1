package slicing

import (
	"path/filepath"
	"sort"
	"strings"
)

// family groups languages by the span-extraction strategy that fits them.
type family int

const (
	familyBraces family = iota
	familyIndent
	familyHeadings
	familyPlain
)

// langInfo describes one recognized language.
type langInfo struct {
	name   string
	family family
}

// extensions maps lowercase file extensions to languages. Files with other
// extensions are not indexed.
var extensions = map[string]langInfo{
	".go":       {"go", familyBraces},
	".py":       {"python", familyIndent},
	".pyi":      {"python", familyIndent},
	".js":       {"javascript", familyBraces},
	".jsx":      {"javascript", familyBraces},
	".mjs":      {"javascript", familyBraces},
	".ts":       {"typescript", familyBraces},
	".tsx":      {"typescript", familyBraces},
	".java":     {"java", familyBraces},
	".c":        {"c", familyBraces},
	".h":        {"c", familyBraces},
	".cc":       {"cpp", familyBraces},
	".cpp":      {"cpp", familyBraces},
	".hpp":      {"cpp", familyBraces},
	".rs":       {"rust", familyBraces},
	".cs":       {"csharp", familyBraces},
	".kt":       {"kotlin", familyBraces},
	".swift":    {"swift", familyBraces},
	".rb":       {"ruby", familyIndent},
	".md":       {"markdown", familyHeadings},
	".markdown": {"markdown", familyHeadings},
	".rst":      {"rst", familyPlain},
	".sh":       {"shell", familyPlain},
	".bash":     {"shell", familyPlain},
	".sql":      {"sql", familyPlain},
	".yaml":     {"yaml", familyPlain},
	".yml":      {"yaml", familyPlain},
	".toml":     {"toml", familyPlain},
	".json":     {"json", familyPlain},
	".csv":      {"csv", familyPlain},
	".proto":    {"proto", familyBraces},
	".tf":       {"hcl", familyBraces},
}

// DetectLang returns the language for a file path, or empty when the file
// is not an indexable kind.
func DetectLang(path string) string {
	info, ok := lookupLang(path)
	if !ok {
		return ""
	}
	return info.name
}

// Indexable reports whether the extractor knows how to slice the file.
func Indexable(path string) bool {
	_, ok := lookupLang(path)
	return ok
}

// Languages returns the sorted set of language names the extractor
// recognizes.
func Languages() []string {
	seen := make(map[string]bool, len(extensions))
	for _, info := range extensions {
		seen[info.name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupLang(path string) (langInfo, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	info, ok := extensions[ext]
	return info, ok
}

// familyOf returns the extraction strategy for a language name. Unknown
// names fall back to plain fixed windows.
func familyOf(lang string) family {
	for _, info := range extensions {
		if info.name == lang {
			return info.family
		}
	}
	return familyPlain
}
