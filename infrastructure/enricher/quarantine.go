package enricher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/llmc-dev/ragd/domain/routing"
)

// Quarantine stores raw model output that failed parsing, for offline
// inspection. Files are never read back by the daemon.
type Quarantine struct {
	dir string
}

// NewQuarantine creates a quarantine rooted at dir. The directory is
// created lazily on first save.
func NewQuarantine(dir string) Quarantine {
	return Quarantine{dir: dir}
}

// Save writes one rejected output and returns its path. The name carries
// the span identity, the tier that produced it, and a timestamp so repeated
// failures never overwrite each other.
func (q Quarantine) Save(spanHash string, tier routing.Tier, raw string) (string, error) {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine directory: %w", err)
	}

	short := spanHash
	if len(short) > 12 {
		short = short[:12]
	}
	name := fmt.Sprintf("%s_%s_%d.txt", short, tier, time.Now().UnixNano())
	path := filepath.Join(q.dir, name)

	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write quarantine file: %w", err)
	}
	return path, nil
}
