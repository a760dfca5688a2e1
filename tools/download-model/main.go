// Build-time tool that downloads the local embedding model in ONNX form so
// it can be compiled into ragd with -tags embed_model. Pointing dest at a
// daemon home's models/ directory (e.g. ~/.llmc/models) provisions the
// runtime cache instead, for binaries built without an embedded model.
//
// Usage: go run ./tools/download-model [dest [model]]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knights-analytics/hugot"
)

// defaultModel matches the model of the built-in "default-docs" profile.
const defaultModel = "sentence-transformers/all-MiniLM-L6-v2"

func main() {
	dest := "infrastructure/provider/models"
	model := defaultModel
	if len(os.Args) > 1 {
		dest = os.Args[1]
	}
	if len(os.Args) > 2 {
		model = os.Args[2]
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Downloading %s to %s...\n", model, dest)

	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	modelPath, err := hugot.DownloadModel(model, dest, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "download model: %v\n", err)
		os.Exit(1)
	}

	// The embedder recognizes a model directory by its tokenizer.json.
	if _, err := os.Stat(filepath.Join(modelPath, "tokenizer.json")); err != nil {
		fmt.Fprintf(os.Stderr, "downloaded model has no tokenizer.json: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Model downloaded to %s\n", modelPath)
}
