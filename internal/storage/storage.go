// Package storage keeps target snapshots and address-map exports in an
// object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mem-analysis/pkg/config"
	apperrors "github.com/mem-analysis/pkg/errors"
)

// Storage is a flat key/value object store. Keys are slash-separated and
// normalized by CleanKey before they reach a backend.
type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	// Download fails with a NOT_FOUND error for a missing key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete of a missing key succeeds.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// GetURL locates key for humans: a bucket URL or a file path.
	GetURL(key string) string
}

// Backend names a Storage implementation in configuration.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendCOS   Backend = "cos"
)

// NewStorage opens the backend selected by cfg.Type; empty means local.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if Backend(cfg.Type) == BackendCOS {
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	}
	return NewLocalStorage(cfg.LocalPath)
}

// ValidateConfig reports the first missing or unsupported setting.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return errors.New("storage config is nil")
	}
	switch Backend(cfg.Type) {
	case "", BackendLocal:
		if cfg.LocalPath == "" {
			return errors.New("local storage path is required")
		}
	case BackendCOS:
		switch {
		case cfg.Bucket == "":
			return errors.New("COS bucket is required")
		case cfg.Region == "":
			return errors.New("COS region is required")
		case cfg.SecretID == "" || cfg.SecretKey == "":
			return errors.New("COS credentials are required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	return nil
}

// CleanKey normalizes a key to a slash-separated relative path. Keys that
// are empty or climb out of the store are rejected.
func CleanKey(key string) (string, error) {
	slashed := strings.ReplaceAll(key, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", apperrors.Newf(apperrors.CodeInvalidInput, "invalid storage key %q", key)
		}
	}
	k := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if k == "" {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "invalid storage key %q", key)
	}
	return k, nil
}

func notFound(key string) error {
	return apperrors.Newf(apperrors.CodeNotFound, "object not found: %s", key)
}

func storageError(op, key string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to %s %s", op, key), err)
}
