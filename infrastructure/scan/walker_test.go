package scan_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/ragd/infrastructure/scan"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func relPaths(candidates []scan.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.RelPath
	}
	return out
}

func TestWalk_SelectsIndexableFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":              "package main\n\nfunc main() {}\n",
		"docs/guide.md":        "# Guide\n\nBody.\n",
		"image.png":            "\x89PNG",
		"node_modules/dep.js":  "module.exports = {}\n",
		".llmc/rag/note.md":    "workspace db lives here\n",
		"vendor/lib/vendor.go": "package lib\n",
	})

	w, err := scan.NewWalker(root, nil, nil)
	require.NoError(t, err)

	got, err := w.Walk(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/guide.md", "main.go"}, relPaths(got))
	for _, c := range got {
		assert.NotEmpty(t, c.Lang)
		assert.Positive(t, c.Size)
		assert.False(t, c.ModTime.IsZero())
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(c.RelPath)), c.AbsPath)
	}
}

func TestWalk_NoIndexPatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".noindex":           "# generated data\n*.sql\nsecrets\n",
		"keep.go":            "package keep\n",
		"data.sql":           "SELECT 1;\n",
		"secrets/creds.yaml": "key: value\n",
	})

	w, err := scan.NewWalker(root, nil, nil)
	require.NoError(t, err)

	got, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go"}, relPaths(got))
}

func TestWalk_ExtraSkipDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":       "package main\n",
		"private/x.go":  "package private\n",
		"private/y.sql": "SELECT 2;\n",
	})

	w, err := scan.NewWalker(root, []string{"private"}, nil)
	require.NoError(t, err)

	got, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, relPaths(got))
}

func TestWalk_GitIgnore(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":       "generated/\nlocal.md\n",
		"main.go":          "package main\n",
		"generated/gen.go": "package generated\n",
		"local.md":         "# scratch\n",
	})

	cmd := exec.Command("git", "init", "--quiet")
	cmd.Dir = root
	require.NoError(t, cmd.Run())

	w, err := scan.NewWalker(root, nil, nil)
	require.NoError(t, err)

	got, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, relPaths(got),
		"paths matched by .gitignore must be dropped")
}

func TestWalk_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n"})

	w, err := scan.NewWalker(root, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Walk(ctx)
	require.Error(t, err)
}

func TestNewRuleset_NotDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := scan.NewRuleset(file, nil)
	require.Error(t, err)

	_, err = scan.NewRuleset(filepath.Join(root, "missing"), nil)
	require.Error(t, err)
}
