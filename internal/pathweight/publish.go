package pathweight

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dslb-eesm/controlplane/internal/domain"
)

func marshalPublication(pub domain.Publication) ([]byte, error) {
	return json.MarshalIndent(pub, "", "  ")
}

// writeAtomic writes data to path via write-temp-then-rename, matching
// the discipline internal/state and internal/alerts use for their own
// published artefacts.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pathweight-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
