// Package pprof profiles the tool itself: a recorder that writes profiles
// around one run, and the standard /debug/pprof handlers for the daemon.
package pprof

import (
	"fmt"
	"slices"
	"strings"
)

// ProfileType is a runtime/pprof profile name.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

var allProfiles = []ProfileType{
	ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex, ProfileAllocs,
}

// DefaultProfileTypes is what a recorder captures when nothing is named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes accepts names in any case; empty input gives the
// defaults.
func ParseProfileTypes(names []string) ([]ProfileType, error) {
	if len(names) == 0 {
		return DefaultProfileTypes(), nil
	}
	out := make([]ProfileType, len(names))
	for i, n := range names {
		out[i] = ProfileType(strings.ToLower(strings.TrimSpace(n)))
		if !slices.Contains(allProfiles, out[i]) {
			return nil, fmt.Errorf("unknown profile type: %q", n)
		}
	}
	return out, nil
}

// Config configures a Recorder.
type Config struct {
	// OutputDir receives one subdirectory per profile type.
	OutputDir string
	Profiles  []ProfileType
	// MaxFiles is the number of files kept per profile type; 0 keeps all.
	MaxFiles int
}

func (c *Config) HasProfile(pt ProfileType) bool {
	return slices.Contains(c.Profiles, pt)
}
