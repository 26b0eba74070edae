// Package addrmap builds the address map of a target: every top-level region
// discovered by the region providers, plus a synthesized region for each
// virtual allocation no provider accounts for, ordered by base address.
package addrmap

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mem-analysis/internal/provider"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/address"
	"github.com/mem-analysis/pkg/collections"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/utils"
)

const tracerName = "github.com/mem-analysis/internal/addrmap"

// ============================================================================
// Build Configuration
// ============================================================================

// BuildConfig configures a map build.
type BuildConfig struct {
	// StopAt32BitLimit ends the scan of a 32-bit target at 4GB, before the
	// 64-bit shim mappings of a Wow64 process.
	// Default: true
	StopAt32BitLimit bool

	// StrictProviders makes a failing provider fail the build. Otherwise the
	// failure is recorded in Map.ProviderErrors and the build continues.
	StrictProviders bool

	// Timing logs per-phase durations after the build.
	Timing bool

	Logger utils.Logger
}

// DefaultBuildConfig returns the default build configuration.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{StopAt32BitLimit: true}
}

// WithLogger returns a copy of c that logs to logger.
func (c BuildConfig) WithLogger(logger utils.Logger) BuildConfig {
	c.Logger = logger
	return c
}

// WithStrictProviders returns a copy of c with StrictProviders set.
func (c BuildConfig) WithStrictProviders(strict bool) BuildConfig {
	c.StrictProviders = strict
	return c
}

// WithTiming returns a copy of c with Timing set.
func (c BuildConfig) WithTiming(enabled bool) BuildConfig {
	c.Timing = enabled
	return c
}

// ============================================================================
// Map
// ============================================================================

// ProviderError records a provider that stopped with an error.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error {
	return e.Err
}

// Stats summarizes a build.
type Stats struct {
	ProviderRegions    int
	ScannedAllocations int
	Synthesized        int
}

// Map is an immutable, base-ordered set of top-level regions.
type Map struct {
	is32Bit        bool
	regions        []region.Region
	maxEnd         []uint64
	providerErrors []ProviderError
	stats          Stats
}

func compareRegions(a, b region.Region) int {
	return a.BaseAddress().Compare(b.BaseAddress())
}

// Build asks every provider for its regions, then scans the whole address
// space and adds a VirtualAllocRegion for every allocation that no provider
// region fully covers. A failing region query ends the scan.
func Build(ctx context.Context, t target.Target, providers []provider.Provider, cfg BuildConfig) (*Map, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "addrmap.Build")
	defer span.End()

	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	logger = logger.WithField("component", "addrmap")
	timer := utils.NewTimer("AddressMap", utils.WithLogger(logger), utils.WithEnabled(cfg.Timing))

	m := &Map{is32Bit: t.Is32Bit()}
	list := collections.NewSortedList(compareRegions)

	phase := timer.Start("providers")
	for _, p := range providers {
		if err := m.collect(ctx, t, p, list, logger); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if cfg.StrictProviders && len(m.providerErrors) > 0 {
			err := m.providerErrors[0]
			span.RecordError(err)
			return nil, err
		}
	}
	phase.Stop()
	m.stats.ProviderRegions = list.Len()

	phase = timer.Start("scan")
	err := m.scan(ctx, t, list, cfg, logger)
	phase.Stop()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.regions = list.Items()
	m.maxEnd = make([]uint64, len(m.regions))
	var hi uint64
	for i, r := range m.regions {
		hi = max(hi, region.End(r).Value())
		m.maxEnd[i] = hi
	}

	span.SetAttributes(
		attribute.Int("addrmap.regions", len(m.regions)),
		attribute.Int("addrmap.synthesized", m.stats.Synthesized),
	)
	logger.Debug("Built address map: %d regions (%d from providers, %d synthesized)",
		len(m.regions), m.stats.ProviderRegions, m.stats.Synthesized)
	timer.PrintSummary()
	return m, nil
}

func (m *Map) collect(ctx context.Context, t target.Target, p provider.Provider, list *collections.SortedList[region.Region], logger utils.Logger) error {
	for r, err := range p.IdentifyRegions(ctx, t) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if apperrors.IsSymbolsUnavailable(err) {
				logger.Warn("Provider %s unavailable: %v", p.Name(), err)
			} else {
				logger.Warn("Provider %s failed: %v", p.Name(), err)
			}
			m.providerErrors = append(m.providerErrors, ProviderError{Provider: p.Name(), Err: err})
			return nil
		}
		if r.Size() == 0 {
			continue
		}
		list.Add(r)
	}
	return ctx.Err()
}

func (m *Map) scan(ctx context.Context, t target.Target, list *collections.SortedList[region.Region], cfg BuildConfig, logger utils.Logger) error {
	known := list.Items()
	idx := 0
	var knownEnd uint64

	var addr uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.is32Bit && cfg.StopAt32BitLimit && addr > address.MaxUint32 {
			break
		}
		info, err := t.QueryRegion(addr)
		if err != nil {
			logger.Debug("Address space scan ends at 0x%x: %v", addr, err)
			break
		}
		if info.RegionSize == 0 || info.End() <= addr {
			break
		}
		if info.State == target.MemFree {
			addr = info.End()
			continue
		}

		va := newVirtualAllocRegion(t, info, m.is32Bit)
		m.stats.ScannedAllocations++
		base, end := va.BaseAddress().Value(), region.End(va).Value()
		if end <= addr {
			break
		}
		addr = end

		for idx < len(known) && known[idx].BaseAddress().Value() <= base {
			knownEnd = max(knownEnd, region.End(known[idx]).Value())
			idx++
		}
		if knownEnd >= end {
			continue
		}
		list.Add(va)
		m.stats.Synthesized++
	}
	return nil
}

// Is32Bit reports the bitness of the target the map was built from.
func (m *Map) Is32Bit() bool {
	return m.is32Bit
}

// Len returns the number of top-level regions.
func (m *Map) Len() int {
	return len(m.regions)
}

// Regions returns the top-level regions in base order.
func (m *Map) Regions() []region.Region {
	out := make([]region.Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// ProviderErrors returns the providers that failed during the build.
func (m *Map) ProviderErrors() []ProviderError {
	return m.providerErrors
}

// Stats returns build counters.
func (m *Map) Stats() Stats {
	return m.stats
}

// TopLevel returns the outermost top-level region containing addr, or nil.
// A synthesized region containing addr comes first. Otherwise, among
// overlapping provider regions the one with the highest base wins, and on
// equal bases the one added first.
func (m *Map) TopLevel(addr uint64) region.Region {
	synth, prov := m.topLevel(addr)
	if synth != nil {
		return synth
	}
	return prov
}

func (m *Map) topLevel(addr uint64) (synth, prov region.Region) {
	hi := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].BaseAddress().Value() > addr
	})
	for j := hi - 1; j >= 0 && m.maxEnd[j] > addr; j-- {
		r := m.regions[j]
		if !region.Contains(r, addr) {
			continue
		}
		if _, ok := r.(*VirtualAllocRegion); ok {
			if synth == nil {
				synth = r
			}
			continue
		}
		if prov == nil || r.BaseAddress().Equal(prov.BaseAddress()) {
			prov = r
		}
	}
	return synth, prov
}

// RegionsContaining returns the stack of regions containing addr, outermost
// first, descending through sub-regions until no child contains addr. When a
// synthesized region and a provider region both contain addr, the
// synthesized one is outermost and the descent continues through the
// provider region. The stack is empty when no top-level region contains
// addr. If computing a level's children fails, the stack built so far is
// returned with the error.
func (m *Map) RegionsContaining(ctx context.Context, addr uint64) ([]region.Region, error) {
	var stack []region.Region
	synth, prov := m.topLevel(addr)
	for _, r := range []region.Region{synth, prov} {
		if r != nil {
			stack = append(stack, r)
		}
	}
	if len(stack) == 0 {
		return nil, nil
	}
	cur := stack[len(stack)-1]
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := cur.SubRegions(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return stack, fmt.Errorf("sub-regions of %s: %w", cur.BaseAddress(), err)
		}
		next := childContaining(children, addr)
		if next == nil {
			return stack, nil
		}
		stack = append(stack, next)
		cur = next
	}
}

func childContaining(children []region.Region, addr uint64) region.Region {
	for _, c := range children {
		if region.Contains(c, addr) {
			return c
		}
	}
	return nil
}
