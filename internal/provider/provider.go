// Package provider contains the strategies that discover top-level regions
// for the address map: loaded modules, native heaps and managed-runtime
// heaps.
package provider

import (
	"context"
	"fmt"
	"iter"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/utils"
)

// Provider enumerates top-level regions of a target. The sequence is
// consumed once per map build.
type Provider interface {
	Name() string
	IdentifyRegions(ctx context.Context, t target.Target) iter.Seq2[region.Region, error]
}

// Provider names accepted by New.
const (
	NameModules     = "modules"
	NameNativeHeaps = "native-heaps"
	NameManagedHeap = "managed-heaps"
)

// AllNames lists every provider in registration order.
var AllNames = []string{NameModules, NameNativeHeaps, NameManagedHeap}

// New creates a provider by name.
func New(name string, logger utils.Logger) (Provider, error) {
	switch name {
	case NameModules:
		return NewModuleProvider(), nil
	case NameNativeHeaps:
		return NewNativeHeapProvider(logger), nil
	case NameManagedHeap:
		return NewManagedHeapProvider(), nil
	default:
		return nil, fmt.Errorf("unknown region provider: %s", name)
	}
}

// NewAll creates the named providers, in the given order.
func NewAll(names []string, logger utils.Logger) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, n := range names {
		p, err := New(n, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
