package slicing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmc-dev/ragd/infrastructure/slicing"
)

func TestDetectLang_ByExtension(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.go", "go"},
		{"src/app.py", "python"},
		{"types.pyi", "python"},
		{"ui/App.tsx", "typescript"},
		{"lib/index.mjs", "javascript"},
		{"core/engine.rs", "rust"},
		{"Service.java", "java"},
		{"kernel.c", "c"},
		{"kernel.h", "c"},
		{"engine.cpp", "cpp"},
		{"Program.cs", "csharp"},
		{"App.kt", "kotlin"},
		{"View.swift", "swift"},
		{"model.rb", "ruby"},
		{"README.md", "markdown"},
		{"guide.markdown", "markdown"},
		{"notes.rst", "rst"},
		{"deploy.sh", "shell"},
		{"schema.sql", "sql"},
		{"config.yaml", "yaml"},
		{"config.yml", "yaml"},
		{"Cargo.toml", "toml"},
		{"data.json", "json"},
		{"api.proto", "proto"},
		{"main.tf", "hcl"},
		{"binary.exe", ""},
		{"image.png", ""},
		{"Makefile", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, slicing.DetectLang(tt.path))
		})
	}
}

func TestDetectLang_CaseInsensitive(t *testing.T) {
	assert.Equal(t, "go", slicing.DetectLang("MAIN.GO"))
	assert.Equal(t, "markdown", slicing.DetectLang("ReadMe.MD"))
}

func TestIndexable(t *testing.T) {
	assert.True(t, slicing.Indexable("main.go"))
	assert.True(t, slicing.Indexable("docs/guide.md"))
	assert.False(t, slicing.Indexable("photo.jpg"))
	assert.False(t, slicing.Indexable("no_extension"))
	assert.False(t, slicing.Indexable(".gitignore"))
}
