package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mem-analysis/internal/target/snapshot"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/compression"
	"github.com/mem-analysis/pkg/model"
)

// Key prefixes inside the store.
const (
	ExportPrefix   = "exports/"
	SnapshotPrefix = "snapshots/"
)

// Archive stores address-map exports and target snapshot files, compressing
// what it writes with one codec and accepting any supported codec on read.
type Archive struct {
	store Storage
	codec compression.Type
}

// NewArchive wraps store. codec is applied to exports.
func NewArchive(store Storage, codec compression.Type) *Archive {
	return &Archive{store: store, codec: codec}
}

// Store returns the underlying storage.
func (a *Archive) Store() Storage {
	return a.store
}

// ExportKey is the key an export named name is written to.
func (a *Archive) ExportKey(name string) string {
	return ExportPrefix + name + ".json" + compression.Extension(a.codec)
}

// PutExport encodes e as JSON, compresses it and uploads it. It returns the
// key written.
func (a *Archive) PutExport(ctx context.Context, e *model.MapExport) (string, error) {
	if e.Name == "" {
		return "", apperrors.New(apperrors.CodeInvalidInput, "export name is required")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}
	data, err = a.compress(data)
	if err != nil {
		return "", err
	}
	key := a.ExportKey(e.Name)
	if err := a.store.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

// GetExport downloads and decodes the export at key.
func (a *Archive) GetExport(ctx context.Context, key string) (*model.MapExport, error) {
	data, err := a.read(ctx, key)
	if err != nil {
		return nil, err
	}
	var e model.MapExport
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to decode export "+key, err)
	}
	return &e, nil
}

// ListExports returns the names of stored exports.
func (a *Archive) ListExports(ctx context.Context) ([]string, error) {
	keys, err := a.store.List(ctx, ExportPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, ExportPrefix)
		if i := strings.Index(name, ".json"); i >= 0 {
			name = name[:i]
		}
		names = append(names, name)
	}
	return names, nil
}

// PutSnapshot uploads a target snapshot file under SnapshotPrefix. The
// file is stored as given; snapshot files carry their own compression.
func (a *Archive) PutSnapshot(ctx context.Context, name string, r io.Reader) (string, error) {
	key := SnapshotPrefix + name
	if err := a.store.Upload(ctx, key, r); err != nil {
		return "", err
	}
	return key, nil
}

// OpenSnapshot loads the target snapshot stored at key. A key without the
// snapshot prefix is looked up under it.
func (a *Archive) OpenSnapshot(ctx context.Context, key string) (*snapshot.Snapshot, error) {
	if !strings.HasPrefix(key, SnapshotPrefix) {
		key = SnapshotPrefix + key
	}
	data, err := a.download(ctx, key)
	if err != nil {
		return nil, err
	}
	return snapshot.Parse(data)
}

func (a *Archive) compress(data []byte) ([]byte, error) {
	c, err := compression.New(a.codec, compression.LevelDefault)
	if err != nil {
		return nil, err
	}
	defer compression.Close(c)
	out, err := c.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compress with %s: %w", c.Name(), err)
	}
	return out, nil
}

func (a *Archive) read(ctx context.Context, key string) ([]byte, error) {
	data, err := a.download(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := compression.AutoDecompress(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to decompress "+key, err)
	}
	return raw, nil
}

func (a *Archive) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := a.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageError("read", key, err)
	}
	return data, nil
}
