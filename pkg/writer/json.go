// Package writer encodes export documents as JSON files, optionally
// compressed.
package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mem-analysis/pkg/compression"
)

// JSONWriter streams one value per Write as a JSON document.
type JSONWriter[T any] struct {
	// Indent is the per-level indentation; empty is compact.
	Indent string
}

func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter indents with two spaces.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write encodes v followed by a newline.
func (w *JSONWriter[T]) Write(v T, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", w.Indent)
	return enc.Encode(v)
}

func (w *JSONWriter[T]) WriteToFile(v T, path string) error {
	return createFile(path, func(f io.Writer) error { return w.Write(v, f) })
}

// CompressedWriter encodes compact JSON and compresses the whole document
// with one codec.
type CompressedWriter[T any] struct {
	Codec compression.Type
	Level compression.Level
}

// NewCompressedWriter uses the default level.
func NewCompressedWriter[T any](codec compression.Type) *CompressedWriter[T] {
	return &CompressedWriter[T]{Codec: codec, Level: compression.LevelDefault}
}

// WriteResult reports sizes before and after compression.
type WriteResult struct {
	JSONSize       int64
	CompressedSize int64
	// CompressionPct is CompressedSize as a percentage of JSONSize.
	CompressionPct float64
}

func newWriteResult(plain, packed int) *WriteResult {
	r := &WriteResult{JSONSize: int64(plain), CompressedSize: int64(packed)}
	if plain > 0 {
		r.CompressionPct = 100 * float64(packed) / float64(plain)
	}
	return r
}

func (w *CompressedWriter[T]) Write(v T, out io.Writer) (*WriteResult, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	c, err := compression.New(w.Codec, w.Level)
	if err != nil {
		return nil, err
	}
	defer compression.Close(c)

	packed, err := c.Compress(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to compress with %s: %w", c.Name(), err)
	}
	if _, err := out.Write(packed); err != nil {
		return nil, fmt.Errorf("failed to write data: %w", err)
	}
	return newWriteResult(len(doc), len(packed)), nil
}

// WriteToFile writes to path as given; no codec extension is appended.
func (w *CompressedWriter[T]) WriteToFile(v T, path string) (*WriteResult, error) {
	var result *WriteResult
	err := createFile(path, func(f io.Writer) error {
		var err error
		result, err = w.Write(v, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createFile truncates path, runs fill and reports close errors too.
func createFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	fillErr := fill(f)
	if closeErr := f.Close(); closeErr != nil {
		return errors.Join(fillErr, fmt.Errorf("failed to close file: %w", closeErr))
	}
	return fillErr
}
