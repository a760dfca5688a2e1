// Package scan walks a repository working tree and selects the files worth
// indexing: recognized languages, not excluded by git ignore rules or
// .noindex patterns.
package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// defaultSkipDirs are directory names pruned from every walk without
// consulting git. ".llmc" holds our own workspaces and must never be
// indexed into itself.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".llmc":        true,
	".idea":        true,
	".vscode":      true,
	".tox":         true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// Ruleset decides which paths a walk must leave out. It combines the
// built-in directory prunes, explicit skip paths (the repo's workspace),
// .noindex patterns, and the repository's own git ignore rules.
type Ruleset struct {
	root      string
	isGitRepo bool
	noIndex   []string
	skip      []string
}

// NewRuleset builds the rules for a repository root. skip entries are
// root-relative directory paths pruned in addition to the defaults.
func NewRuleset(root string, skip []string) (Ruleset, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Ruleset{}, err
	}
	if !info.IsDir() {
		return Ruleset{}, fmt.Errorf("not a directory: %s", root)
	}

	r := Ruleset{root: root}
	for _, s := range skip {
		s = strings.TrimSuffix(filepath.ToSlash(s), "/")
		if s != "" && s != "." {
			r.skip = append(r.skip, s)
		}
	}

	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		r.isGitRepo = true
	}
	if rules, err := loadNoIndexPatterns(filepath.Join(root, ".noindex")); err == nil {
		r.noIndex = rules
	}
	return r, nil
}

// SkipDir reports whether a directory (given root-relative with forward
// slashes) should be pruned.
func (r Ruleset) SkipDir(relPath, name string) bool {
	if defaultSkipDirs[name] {
		return true
	}
	for _, skip := range r.skip {
		if relPath == skip || strings.HasPrefix(relPath, skip+"/") {
			return true
		}
	}
	return false
}

// SkipFile reports whether a file matches the .noindex patterns. Patterns
// are tried against the full relative path and against each component.
func (r Ruleset) SkipFile(relPath string) bool {
	if len(r.noIndex) == 0 {
		return false
	}

	for _, pattern := range r.noIndex {
		if matched, err := filepath.Match(pattern, relPath); err == nil && matched {
			return true
		}
		for _, part := range strings.Split(relPath, "/") {
			if matched, err := filepath.Match(pattern, part); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// GitIgnored asks git once which of the candidate paths its ignore rules
// exclude. It returns nil when the repository has no git metadata, when the
// git binary is unavailable, or when git fails; callers treat nil as
// "filter disabled". Exit status 1 means no path is ignored.
func (r Ruleset) GitIgnored(ctx context.Context, relPaths []string) map[string]bool {
	if !r.isGitRepo || len(relPaths) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "check-ignore", "--stdin", "-z")
	cmd.Dir = r.root
	cmd.Stdin = strings.NewReader(strings.Join(relPaths, "\x00") + "\x00")

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return map[string]bool{}
		}
		return nil
	}

	ignored := make(map[string]bool)
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			ignored[p] = true
		}
	}
	return ignored
}

// loadNoIndexPatterns reads patterns from a .noindex file, skipping blank
// lines and comments.
func loadNoIndexPatterns(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
