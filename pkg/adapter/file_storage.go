package adapter

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// fileStorage keeps objects as files under a local directory. Used when no
// bucket is configured.
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage backed by a local directory
func NewFileStorage(root string) (Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("root", root))
	}
	return &fileStorage{root: root}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", goerr.New("key escapes storage directory", goerr.V("key", key))
	}
	return p, nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("key", key))
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create file", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list files", goerr.V("prefix", prefix))
	}
	return keys, nil
}
