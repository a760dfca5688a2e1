package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestHugotEmbedder_Embed(t *testing.T) {
	if !hasEmbeddedModel {
		t.Skip("skipping: requires -tags embed_model")
	}

	emb := NewHugotEmbedder(HugotConfig{CacheDir: t.TempDir(), Dimension: 768})
	defer func() {
		require.NoError(t, emb.Close())
	}()

	vectors, err := emb.EmbedPassages(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, 768, len(vectors[0]), "st-codesearch-distilroberta-base produces 768 dimensions")
}

func TestHugotEmbedder_EmbedBatch(t *testing.T) {
	if !hasEmbeddedModel {
		t.Skip("skipping: requires -tags embed_model")
	}

	emb := NewHugotEmbedder(HugotConfig{CacheDir: t.TempDir(), Dimension: 768})
	defer func() {
		require.NoError(t, emb.Close())
	}()

	// 25 texts should be split into 3 pipeline runs of at most 10.
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = "test sentence number"
	}

	vectors, err := emb.EmbedPassages(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 25)
	for i, vec := range vectors {
		require.Equal(t, 768, len(vec), "embedding %d has wrong dimension", i)
	}
}

func TestHugotEmbedder_EmbedEmpty(t *testing.T) {
	// Empty input must not trigger model initialization; this passes without
	// any model on disk.
	emb := NewHugotEmbedder(HugotConfig{CacheDir: t.TempDir(), Dimension: 768})

	vectors, err := emb.EmbedPassages(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, vectors)

	vectors, err = emb.EmbedQueries(context.Background(), []string{})
	require.NoError(t, err)
	require.Empty(t, vectors)
}

func TestHugotEmbedder_CloseIsIdempotent(t *testing.T) {
	emb := NewHugotEmbedder(HugotConfig{CacheDir: t.TempDir(), Dimension: 768})

	require.NoError(t, emb.Close())
	require.NoError(t, emb.Close())
}

func TestHugotEmbedder_Dimension(t *testing.T) {
	emb := NewHugotEmbedder(HugotConfig{CacheDir: t.TempDir(), Dimension: 384})
	require.Equal(t, 384, emb.Dimension())
}

func TestExtractEmbeddedModel(t *testing.T) {
	// Build a fake embedded FS with the expected structure
	fakeFS := fstest.MapFS{
		"models/test-model/tokenizer.json":  {Data: []byte(`{"test": true}`)},
		"models/test-model/config.json":     {Data: []byte(`{"hidden_size": 768}`)},
		"models/test-model/onnx/model.onnx": {Data: []byte("fake-onnx-data")},
	}

	targetDir := t.TempDir()
	modelPath, err := extractEmbeddedModel(fakeFS, targetDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(targetDir, "test-model"), modelPath)

	// Verify files were extracted
	data, err := os.ReadFile(filepath.Join(modelPath, "tokenizer.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"test": true`)

	data, err = os.ReadFile(filepath.Join(modelPath, "onnx", "model.onnx"))
	require.NoError(t, err)
	require.Equal(t, "fake-onnx-data", string(data))

	// Second extraction should skip (files already present)
	modelPath2, err := extractEmbeddedModel(fakeFS, targetDir)
	require.NoError(t, err)
	require.Equal(t, modelPath, modelPath2)
}

func TestExtractEmbeddedModel_NoModelDir(t *testing.T) {
	emptyFS := fstest.MapFS{
		"models/.gitkeep": {Data: []byte("")},
	}

	targetDir := t.TempDir()
	_, err := extractEmbeddedModel(emptyFS, targetDir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no model directory found")
}

func TestHugotEmbedder_DiskModelPath(t *testing.T) {
	modelDir := t.TempDir()

	// No model yet — diskModelPath should fail.
	emb := NewHugotEmbedder(HugotConfig{CacheDir: modelDir, Dimension: 768})
	_, err := emb.diskModelPath()
	require.Error(t, err)

	// Create a valid model subdirectory.
	subdir := filepath.Join(modelDir, "my-model")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(subdir, "tokenizer.json"), []byte(`{}`), 0o644))

	got, err := emb.diskModelPath()
	require.NoError(t, err)
	require.Equal(t, subdir, got)
}

func TestHugotEmbedder_AvailableWithDiskModel(t *testing.T) {
	modelDir := t.TempDir()
	emb := NewHugotEmbedder(HugotConfig{CacheDir: modelDir, Dimension: 768})

	// Without embedded model and no disk model, should be unavailable.
	if !hasEmbeddedModel {
		require.False(t, emb.Available())
	}

	// Place model files on disk — should become available.
	subdir := filepath.Join(modelDir, "test-model")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(subdir, "tokenizer.json"), []byte(`{}`), 0o644))

	require.True(t, emb.Available())
}

func TestHugotEmbedder_DiskModelPath_SkipsFiles(t *testing.T) {
	modelDir := t.TempDir()

	// A plain file (not a directory) should be skipped.
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "README.md"), []byte("readme"), 0o644))

	emb := NewHugotEmbedder(HugotConfig{CacheDir: modelDir, Dimension: 768})
	_, err := emb.diskModelPath()
	require.Error(t, err)
}

func TestHugotEmbedder_DiskModelPath_SkipsDirWithoutTokenizer(t *testing.T) {
	modelDir := t.TempDir()

	// A directory without tokenizer.json should be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(modelDir, "incomplete-model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "incomplete-model", "config.json"), []byte(`{}`), 0o644))

	emb := NewHugotEmbedder(HugotConfig{CacheDir: modelDir, Dimension: 768})
	_, err := emb.diskModelPath()
	require.Error(t, err)
}
