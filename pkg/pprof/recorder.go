package pprof

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Recorder captures a CPU profile between Start and Stop and snapshots the
// other profiles at Stop.
type Recorder struct {
	cfg    Config
	writer *Writer

	mu      sync.Mutex
	cpu     bytes.Buffer
	running bool
}

// NewRecorder creates a recorder writing under cfg.OutputDir.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = DefaultProfileTypes()
	}
	w := NewWriter(cfg.OutputDir, cfg.MaxFiles)
	if err := w.EnsureDir(cfg.Profiles); err != nil {
		return nil, err
	}
	return &Recorder{cfg: cfg, writer: w}, nil
}

// Start begins CPU profiling and enables block and mutex sampling when
// those profiles are requested.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("recorder is already running")
	}
	if r.cfg.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if r.cfg.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}
	if r.cfg.HasProfile(ProfileCPU) {
		r.cpu.Reset()
		if err := pprof.StartCPUProfile(&r.cpu); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	r.running = true
	return nil
}

// Stop ends the recording and writes every requested profile. It returns
// the files written; a failing profile does not stop the others.
func (r *Recorder) Stop() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, fmt.Errorf("recorder is not running")
	}
	r.running = false

	var (
		paths    []string
		firstErr error
	)
	record := func(pt ProfileType, data []byte, err error) {
		if err == nil {
			var path string
			if path, err = r.writer.Write(pt, data); err == nil {
				paths = append(paths, path)
				return
			}
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s profile: %w", pt, err)
		}
	}

	for _, pt := range r.cfg.Profiles {
		if pt == ProfileCPU {
			pprof.StopCPUProfile()
			record(pt, r.cpu.Bytes(), nil)
			continue
		}
		data, err := Snapshot(pt)
		record(pt, data, err)
	}

	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	return paths, firstErr
}

// Snapshot returns the current state of a non-CPU profile.
func Snapshot(pt ProfileType) ([]byte, error) {
	if pt == ProfileCPU {
		return nil, fmt.Errorf("cpu profile needs a duration")
	}
	if pt == ProfileHeap {
		runtime.GC()
	}
	p := pprof.Lookup(string(pt))
	if p == nil {
		return nil, fmt.Errorf("unknown profile type: %s", pt)
	}
	var buf bytes.Buffer
	if err := p.WriteTo(&buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
