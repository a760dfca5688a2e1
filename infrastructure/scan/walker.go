package scan

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/llmc-dev/ragd/infrastructure/slicing"
)

// Candidate is one indexable file found by a walk.
type Candidate struct {
	RelPath string // slash-separated, relative to the root
	AbsPath string
	Lang    string
	Size    int64
	ModTime time.Time
}

// Walker lists a repository's indexable files. One walker serves one root;
// rules are loaded at construction so a .noindex edit takes effect on the
// next job, not mid-walk.
type Walker struct {
	root   string
	rules  Ruleset
	logger *slog.Logger
}

// NewWalker builds a walker for the repository at root. skip entries are
// root-relative directories to prune (the repo's workspace when it lives
// inside the tree).
func NewWalker(root string, skip []string, logger *slog.Logger) (*Walker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := NewRuleset(root, skip)
	if err != nil {
		return nil, err
	}
	return &Walker{root: root, rules: rules, logger: logger}, nil
}

// Walk returns the indexable files under the root in path order. Unreadable
// entries are skipped, not fatal; the only error surfaced is context
// cancellation.
func (w *Walker) Walk(ctx context.Context) ([]Candidate, error) {
	var out []Candidate

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			w.logger.Debug("skipping unreadable entry",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if w.rules.SkipDir(rel, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		lang := slicing.DetectLang(path)
		if lang == "" || w.rules.SkipFile(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		out = append(out, Candidate{
			RelPath: rel,
			AbsPath: path,
			Lang:    lang,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ignored := w.gitFilter(ctx, out); ignored != nil {
		kept := out[:0]
		for _, c := range out {
			if !ignored[c.RelPath] {
				kept = append(kept, c)
			}
		}
		out = kept
	}
	return out, nil
}

func (w *Walker) gitFilter(ctx context.Context, candidates []Candidate) map[string]bool {
	if len(candidates) == 0 {
		return nil
	}
	rels := make([]string, len(candidates))
	for i, c := range candidates {
		rels[i] = c.RelPath
	}

	ignored := w.rules.GitIgnored(ctx, rels)
	if ignored == nil && w.rules.isGitRepo {
		w.logger.Debug("git ignore filter unavailable, indexing all candidates",
			slog.String("root", w.root),
		)
	}
	return ignored
}
