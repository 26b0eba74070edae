package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultLocalRoot = "./storage"
	tempPrefix       = ".upload-"
)

// LocalStorage keeps objects as files under a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed. An empty root means ./storage.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = defaultLocalRoot
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// GetBasePath returns the root directory.
func (s *LocalStorage) GetBasePath() string {
	return s.root
}

// resolve maps key onto the filesystem after checking ctx.
func (s *LocalStorage) resolve(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Upload stages reader in a temporary sibling and renames it into place,
// so readers never observe a partial object.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	dst, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storageError("create directory for", key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return storageError("create", key, err)
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, reader)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return storageError("write", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return storageError("commit", key, err)
	}
	return nil
}

func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, notFound(key)
	case err != nil:
		return nil, storageError("open", key, err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageError("delete", key, err)
	}
	return nil
}

// Exists is false for directories.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(ctx, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, storageError("stat", key, err)
	}
	return !info.IsDir(), nil
}

// List walks the whole tree; staged uploads are not listed.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	}
	if err := filepath.WalkDir(s.root, walk); err != nil {
		return nil, storageError("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetURL returns the file path backing key, or "" for an invalid key.
func (s *LocalStorage) GetURL(key string) string {
	p, err := s.resolve(context.Background(), key)
	if err != nil {
		return ""
	}
	return p
}
