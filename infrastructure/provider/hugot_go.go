//go:build !ORT

package provider

import "github.com/knights-analytics/hugot"

// Default builds run inference on hugot's pure-Go backend: slower than ONNX
// Runtime but free of cgo and shared-library setup.
func newHugotSession() (*hugot.Session, error) {
	return hugot.NewGoSession()
}
