package vault

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rotisserie/eris"
)

// FileStore persists the vault blob as a single file, created with
// owner-only permissions.
type FileStore struct {
	Path string
}

func (s FileStore) Load() ([]byte, error) {
	blob, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read vault file %s", s.Path)
	}
	return blob, nil
}

func (s FileStore) Save(blob []byte) error {
	if err := os.WriteFile(s.Path, blob, 0o600); err != nil {
		return eris.Wrapf(err, "write vault file %s", s.Path)
	}
	return nil
}
