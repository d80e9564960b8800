package artifact

import (
	"context"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
)

const fileExt = ".gob"

// FileStore writes one file per key below Dir. Writes go to a temporary file
// that is renamed into place, so readers never see partial artifacts.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create artifact dir %s", dir)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.Dir, key.fileName()+fileExt)
}

func (s *FileStore) Put(ctx context.Context, key Key, a *Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(a)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, ".tmp-"+key.fileName()+"-*")
	if err != nil {
		return errors.Wrap(err, "create temp artifact")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), s.path(key)), "rename %s", key)
}

func (s *FileStore) Get(ctx context.Context, key Key) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, errors.NewArtifactMissingError(key.String())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return Decode(b)
}
