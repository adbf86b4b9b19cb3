package repository

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// writeFileAtomic writes data via a temp file in the same directory followed
// by a rename, so readers observe either the previous or the new complete
// content and a crash mid-write cannot corrupt the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create directory",
			goerr.T(model.TagPersistence), goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file",
			goerr.T(model.TagPersistence), goerr.V("dir", dir))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to write temp file",
			goerr.T(model.TagPersistence), goerr.V("path", tmpPath))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to close temp file",
			goerr.T(model.TagPersistence), goerr.V("path", tmpPath))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to replace file",
			goerr.T(model.TagPersistence), goerr.V("path", path))
	}

	return nil
}

// writeJSONAtomic marshals v with indentation and writes it atomically
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal JSON",
			goerr.T(model.TagPersistence), goerr.V("path", path))
	}
	return writeFileAtomic(path, data)
}
