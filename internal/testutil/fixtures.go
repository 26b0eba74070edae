// Package testutil provides fixtures shared by package tests: temporary
// files, a sample snapshot manifest and a byte-exact native heap builder.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir creates a temporary directory that is removed when the test ends.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mem-analysis-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, filename string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// ReadFile reads a file and returns its contents.
func ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return data
}

// SampleManifest is a small 64-bit target: one image with two sections, a
// private allocation spanning two queries, a mapped view and a managed
// module backed by the image.
const SampleManifest = `
is32bit: false
teb: 0x70000000
regions:
  - {base: 0x400000, size: 0x1000, type: image}
  - {allocation_base: 0x400000, base: 0x401000, size: 0x2000, type: image, protect: 0x20}
  - {base: 0x500000, size: 0x1000}
  - {allocation_base: 0x500000, base: 0x501000, size: 0x1000, state: reserve}
  - {base: 0x600000, size: 0x2000, type: mapped, protect: 0x2}
memory:
  - {address: 0x500010, hex: "efbeadde00000000"}
  - {address: 0x600008, hex: "efbeadde"}
modules:
  - name: app
    base: 0x400000
    size: 0x3000
    has_symbols: true
    sections:
      - {name: .text, virtual_address: 0x1000, virtual_size: 0x1000}
      - {name: .data, virtual_address: 0x2000, virtual_size: 0x800}
managed_modules:
  - {name: app.dll, image_base: 0x400000, size: 0x3000}
`

// WriteSampleManifest writes SampleManifest to a temporary file.
func WriteSampleManifest(t *testing.T) string {
	t.Helper()
	return WriteFile(t, TempDir(t), "target.yaml", []byte(SampleManifest))
}
