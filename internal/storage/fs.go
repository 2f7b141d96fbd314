package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// FSStore keeps objects under a root directory, mirroring key paths.
type FSStore struct {
	root string
}

func NewFS(root string) (*FSStore, error) {
	if root == "" {
		return nil, eris.New("storage: root dir is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, eris.Wrap(err, "storage: create root dir")
	}
	return &FSStore{root: root}, nil
}

// resolve rejects keys that would escape the root.
func (s *FSStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return eris.Wrapf(err, "storage: mkdir for %s", key)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return eris.Wrapf(err, "storage: write %s", key)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, &model.NotFoundError{Kind: "object", ID: key}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "storage: delete %s", key)
	}
	return nil
}

var _ ObjectStore = (*FSStore)(nil)
