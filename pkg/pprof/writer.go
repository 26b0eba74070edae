package pprof

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mem-analysis/pkg/utils"
)

const (
	profileExt = ".pprof"
	// Lexical order of the stamp is chronological order.
	stampLayout = "20060102_150405.000000"
)

// Writer lays profiles out as <dir>/<type>/<type>_<stamp>.pprof and prunes
// each type directory to the newest maxFiles entries.
type Writer struct {
	mu       sync.Mutex
	dir      string
	maxFiles int
	clock    utils.Clock
}

func NewWriter(dir string, maxFiles int) *Writer {
	return &Writer{dir: dir, maxFiles: maxFiles, clock: utils.NewRealClock()}
}

func (w *Writer) typeDir(pt ProfileType) string {
	return filepath.Join(w.dir, string(pt))
}

// EnsureDir creates one subdirectory per profile type.
func (w *Writer) EnsureDir(profiles []ProfileType) error {
	for _, pt := range profiles {
		if err := os.MkdirAll(w.typeDir(pt), 0755); err != nil {
			return fmt.Errorf("failed to create profile directory %s: %w", pt, err)
		}
	}
	return nil
}

// Write stores data under a fresh stamped name and returns its path. A
// pruning failure still returns the path.
func (w *Writer) Write(pt ProfileType, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := string(pt) + "_" + w.clock.Now().Format(stampLayout) + profileExt
	path := filepath.Join(w.typeDir(pt), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}
	return path, w.prune(pt)
}

func (w *Writer) prune(pt ProfileType) error {
	if w.maxFiles <= 0 {
		return nil
	}
	files, err := w.files(pt)
	if err != nil {
		return err
	}
	for _, old := range files[:max(len(files)-w.maxFiles, 0)] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("failed to remove old profile: %w", err)
		}
	}
	return nil
}

// files lists one type's profiles oldest first.
func (w *Writer) files(pt ProfileType) ([]string, error) {
	dir := w.typeDir(pt)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), profileExt) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListFiles returns the retained profiles of one type, oldest first.
func (w *Writer) ListFiles(pt ProfileType) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files(pt)
}
