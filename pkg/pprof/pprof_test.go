package pprof

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/pkg/utils"
)

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfileTypes(), types)

	types, err = ParseProfileTypes([]string{"Heap", " goroutine"})
	require.NoError(t, err)
	assert.Equal(t, []ProfileType{ProfileHeap, ProfileGoroutine}, types)

	_, err = ParseProfileTypes([]string{"threads"})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(Config{OutputDir: dir, Profiles: []ProfileType{ProfileCPU, ProfileHeap, ProfileMutex}})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	paths, err := r.Stop()
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, filepath.Join(dir, "cpu"), filepath.Dir(paths[0]))

	_, err = r.Stop()
	assert.Error(t, err)
}

func TestNewRecorder_RequiresDir(t *testing.T) {
	_, err := NewRecorder(Config{})
	assert.Error(t, err)
}

func TestWriter_Rotates(t *testing.T) {
	w := NewWriter(t.TempDir(), 2)
	require.NoError(t, w.EnsureDir([]ProfileType{ProfileHeap}))

	clock := utils.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	w.clock = clock
	var written []string
	for i := 0; i < 3; i++ {
		p, err := w.Write(ProfileHeap, []byte{byte(i)})
		require.NoError(t, err)
		written = append(written, p)
		clock.Advance(time.Second)
	}

	files, err := w.ListFiles(ProfileHeap)
	require.NoError(t, err)
	assert.Equal(t, written[1:], files)
}

func TestSnapshot_RejectsCPU(t *testing.T) {
	_, err := Snapshot(ProfileCPU)
	assert.Error(t, err)

	data, err := Snapshot(ProfileGoroutine)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine profile")
}
