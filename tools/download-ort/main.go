// Build-time tool that fetches the native libraries a -tags ORT build of
// ragd links against: the ONNX Runtime shared library and the HuggingFace
// tokenizers static library for the current GOOS/GOARCH.
//
// At runtime the ORT build resolves the library directory from ORT_LIB_DIR,
// then lib/ beside the executable, then ./lib (see
// infrastructure/provider/hugot_ort.go), so installing into the default
// ./lib works for go run and for binaries shipped next to their lib/.
//
// Required env: ORT_VERSION        (e.g. "1.23.2")
// Optional env: ORT_LIB_DIR        (default "./lib")
//               TOKENIZERS_VERSION (default "1.24.0")
//
// Usage: ORT_VERSION=1.23.2 go run ./tools/download-ort
package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// artifact is one library to pull out of an upstream release archive.
type artifact struct {
	url string
	lib string
}

func main() {
	ortVersion := os.Getenv("ORT_VERSION")
	if ortVersion == "" {
		fmt.Fprintln(os.Stderr, "ORT_VERSION env var is required")
		os.Exit(1)
	}
	tokVersion := envOr("TOKENIZERS_VERSION", "1.24.0")
	destDir := envOr("ORT_LIB_DIR", "./lib")

	artifacts, err := platformArtifacts(ortVersion, tokVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", destDir, err)
		os.Exit(1)
	}

	for _, a := range artifacts {
		if err := install(a, destDir); err != nil {
			fmt.Fprintf(os.Stderr, "install %s: %v\n", a.lib, err)
			os.Exit(1)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// platformArtifacts maps GOOS/GOARCH onto the upstream release archives:
// per-platform ORT tarballs from microsoft/onnxruntime and the tokenizers
// static library from daulet/tokenizers, the build hugot links against.
func platformArtifacts(ortVersion, tokVersion string) ([]artifact, error) {
	var ortArchive, ortLib, tokArchive string
	switch key := runtime.GOOS + "/" + runtime.GOARCH; key {
	case "linux/amd64":
		ortArchive, ortLib = "onnxruntime-linux-x64-"+ortVersion+".tgz", "libonnxruntime.so"
		tokArchive = "libtokenizers.linux-amd64.tar.gz"
	case "linux/arm64":
		ortArchive, ortLib = "onnxruntime-linux-aarch64-"+ortVersion+".tgz", "libonnxruntime.so"
		tokArchive = "libtokenizers.linux-arm64.tar.gz"
	case "darwin/arm64":
		ortArchive, ortLib = "onnxruntime-osx-arm64-"+ortVersion+".tgz", "libonnxruntime.dylib"
		tokArchive = "libtokenizers.darwin-arm64.tar.gz"
	case "darwin/amd64":
		ortArchive, ortLib = "onnxruntime-osx-x86_64-"+ortVersion+".tgz", "libonnxruntime.dylib"
		tokArchive = "libtokenizers.darwin-x86_64.tar.gz"
	default:
		return nil, fmt.Errorf("no prebuilt libraries for %s", key)
	}

	return []artifact{
		{
			url: fmt.Sprintf("https://github.com/microsoft/onnxruntime/releases/download/v%s/%s", ortVersion, ortArchive),
			lib: ortLib,
		},
		{
			url: fmt.Sprintf("https://github.com/daulet/tokenizers/releases/download/v%s/%s", tokVersion, tokArchive),
			lib: "libtokenizers.a",
		},
	}, nil
}

func install(a artifact, destDir string) error {
	destPath := filepath.Join(destDir, a.lib)
	if _, err := os.Stat(destPath); err == nil {
		fmt.Printf("%s already present, skipping\n", destPath)
		return nil
	}

	fmt.Printf("Downloading %s\n", a.url)

	delay := 2 * time.Second
	var err error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			fmt.Fprintf(os.Stderr, "retry in %s: %v\n", delay, err)
			time.Sleep(delay)
			delay *= 2
		}
		if err = fetch(a.url, destPath, a.lib); err == nil {
			fmt.Printf("Installed %s\n", destPath)
			return nil
		}
	}
	return err
}

// fetch downloads the archive and extracts the one library file from it.
func fetch(url, destPath, lib string) error {
	resp, err := http.Get(url) //nolint:gosec
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close() //nolint:errcheck

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("%s not found in archive", lib)
		}
		if err != nil {
			return fmt.Errorf("tar read: %w", err)
		}
		// Symlinks and directories are skipped; only the real file counts.
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if !matchesLibrary(filepath.Base(header.Name), lib) {
			continue
		}
		return writeFile(destPath, tr)
	}
}

// matchesLibrary accepts the exact name or a versioned variant such as
// libonnxruntime.1.23.2.dylib.
func matchesLibrary(base, want string) bool {
	if base == want {
		return true
	}
	stem := strings.TrimSuffix(want, filepath.Ext(want))
	return strings.HasPrefix(base, stem+".")
}

func writeFile(path string, src io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
