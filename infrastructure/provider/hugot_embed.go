//go:build embed_model

package provider

import "embed"

// The models directory is populated by tools/download-model before an
// embed_model build; resolveModelPath extracts it into the daemon home's
// models cache on first use.
//
//go:embed all:models
var embeddedModelFS embed.FS

const hasEmbeddedModel = true
