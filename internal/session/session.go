// Package session owns everything derived from one target: the cached
// address map, the block classifier and the single worker on which all
// target access runs.
package session

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mem-analysis/internal/addrmap"
	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/provider"
	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/search"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/internal/vablock"
	"github.com/mem-analysis/pkg/config"
	"github.com/mem-analysis/pkg/parallel"
	"github.com/mem-analysis/pkg/utils"
)

const tracerName = "github.com/mem-analysis/internal/session"

// Event is a change of target state that invalidates the address map.
type Event string

// Events.
const (
	EventSymbolsChanged  Event = "symbols"
	EventDebuggeeChanged Event = "debuggee"
)

// ParseEvent accepts "symbols" and "debuggee".
func ParseEvent(s string) (Event, error) {
	switch Event(s) {
	case EventSymbolsChanged, EventDebuggeeChanged:
		return Event(s), nil
	default:
		return "", fmt.Errorf("unknown event %q", s)
	}
}

// Options configures a Session.
type Options struct {
	Providers       []string
	Build           addrmap.BuildConfig
	ModuleCacheSize int
	Executor        parallel.ExecutorConfig
	Search          search.Options
	Logger          utils.Logger
	// Clock stamps map builds. Nil means the real clock.
	Clock utils.Clock
}

// OptionsFromConfig maps application configuration onto session options.
func OptionsFromConfig(cfg *config.Config, logger utils.Logger) (Options, error) {
	memTypes, err := search.ParseMemTypes(cfg.Search.MemTypes)
	if err != nil {
		return Options{}, err
	}
	build := addrmap.DefaultBuildConfig().
		WithStrictProviders(cfg.Map.StrictProviders).
		WithTiming(cfg.Map.Timing)
	build.StopAt32BitLimit = cfg.Map.StopAt32BitLimit
	return Options{
		Providers:       cfg.Map.Providers,
		Build:           build,
		ModuleCacheSize: cfg.Classifier.ModuleCacheSize,
		Executor:        parallel.DefaultExecutorConfig().WithQueueSize(cfg.Session.QueueSize),
		Search: search.Options{
			PageSize:        cfg.Search.PageSize,
			MemTypes:        memTypes,
			IncludeReadOnly: cfg.Search.IncludeReadOnly,
		},
		Logger: logger,
	}, nil
}

// DefaultOptions returns options with every provider enabled.
func DefaultOptions() Options {
	return Options{
		Providers: provider.AllNames,
		Build:     addrmap.DefaultBuildConfig(),
		Executor:  parallel.DefaultExecutorConfig(),
	}
}

// Session serializes all access to a target. The address map is built on
// first use and rebuilt in full after every invalidation; a failed build
// is not cached.
type Session struct {
	t          target.Target
	opts       Options
	logger     utils.Logger
	exec       *parallel.Executor
	providers  []provider.Provider
	classifier *vablock.Classifier
	clock      utils.Clock

	mu         sync.Mutex
	cached     *addrmap.Map
	generation uint64
	builds     int
	builtAt    time.Time
}

// New creates a session for t and starts its worker.
func New(t target.Target, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	logger = logger.WithField("component", "session")
	if len(opts.Providers) == 0 {
		opts.Providers = provider.AllNames
	}
	providers, err := provider.NewAll(opts.Providers, logger)
	if err != nil {
		return nil, err
	}
	classifier, err := vablock.NewClassifier(t, opts.ModuleCacheSize, logger)
	if err != nil {
		return nil, err
	}
	opts.Build.Logger = logger
	clock := opts.Clock
	if clock == nil {
		clock = utils.NewRealClock()
	}
	return &Session{
		clock:      clock,
		t:          t,
		opts:       opts,
		logger:     logger,
		exec:       parallel.NewExecutor(opts.Executor),
		providers:  providers,
		classifier: classifier,
	}, nil
}

// Close stops the worker.
func (s *Session) Close() {
	s.exec.Close()
}

// Target returns the session's target. Callers must not access it outside
// Do.
func (s *Session) Target() target.Target {
	return s.t
}

// Do runs fn on the session worker.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.exec.Submit(ctx, fn)
}

// Invalidate drops the cached address map. The next access rebuilds it.
func (s *Session) Invalidate(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.generation++
	s.logger.Info("Address map invalidated (%s changed)", ev)
}

// Builds returns how many address maps the session has built.
func (s *Session) Builds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}

// BuiltAt returns when the cached map was built, or the zero time when no
// map is cached.
func (s *Session) BuiltAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Map returns the cached address map, building it if needed.
func (s *Session) Map(ctx context.Context) (*addrmap.Map, error) {
	return parallel.Do(ctx, s.exec, s.mapOnWorker)
}

// Rebuild invalidates the map and builds a new one.
func (s *Session) Rebuild(ctx context.Context, ev Event) (*addrmap.Map, error) {
	s.Invalidate(ev)
	return s.Map(ctx)
}

func (s *Session) mapOnWorker(ctx context.Context) (*addrmap.Map, error) {
	s.mu.Lock()
	if s.cached != nil {
		m := s.cached
		s.mu.Unlock()
		return m, nil
	}
	gen := s.generation
	s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.BuildMap")
	defer span.End()

	m, err := addrmap.Build(ctx, s.t, s.providers, s.opts.Build)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Address map build failed: %v", err)
		return nil, err
	}
	for _, pe := range m.ProviderErrors() {
		s.logger.Warn("%v", pe)
	}
	span.SetAttributes(attribute.Int("addrmap.regions", m.Len()))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds++
	if s.generation == gen {
		s.cached = m
		s.builtAt = s.clock.Now()
	}
	return m, nil
}

// Regions returns the top-level regions of the address map.
func (s *Session) Regions(ctx context.Context) ([]region.Region, error) {
	m, err := s.Map(ctx)
	if err != nil {
		return nil, err
	}
	return m.Regions(), nil
}

// RegionsContaining returns the stack of regions containing addr,
// outermost first.
func (s *Session) RegionsContaining(ctx context.Context, addr uint64) ([]region.Region, error) {
	return parallel.Do(ctx, s.exec, func(ctx context.Context) ([]region.Region, error) {
		m, err := s.mapOnWorker(ctx)
		if err != nil {
			return nil, err
		}
		return m.RegionsContaining(ctx, addr)
	})
}

// SubRegions returns r's children, computing them on the worker.
func (s *Session) SubRegions(ctx context.Context, r region.Region) ([]region.Region, error) {
	return parallel.Do(ctx, s.exec, r.SubRegions)
}

// StreamSubRegions yields r's children as they are decoded. Regions that
// cannot stream are computed in full first.
func (s *Session) StreamSubRegions(ctx context.Context, r region.Region) iter.Seq2[region.Region, error] {
	return parallel.Stream(ctx, s.exec, func(ctx context.Context) iter.Seq2[region.Region, error] {
		if st, ok := r.(region.Streamer); ok {
			return st.StreamSubRegions(ctx)
		}
		return func(yield func(region.Region, error) bool) {
			children, err := r.SubRegions(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, c := range children {
				if !yield(c, nil) {
					return
				}
			}
		}
	})
}

// Heaps parses the process heaps.
func (s *Session) Heaps(ctx context.Context) ([]*heap.Heap, error) {
	return parallel.Do(ctx, s.exec, func(ctx context.Context) ([]*heap.Heap, error) {
		return heap.NewParser(s.t, s.logger).Heaps(ctx)
	})
}

// Blocks classifies every allocation block of the target.
func (s *Session) Blocks(ctx context.Context) ([]vablock.Classified, error) {
	return parallel.Do(ctx, s.exec, s.classifier.ClassifyAll)
}

// BlockAt classifies the allocation block containing addr.
func (s *Session) BlockAt(ctx context.Context, addr uint64) (vablock.Classified, error) {
	return parallel.Do(ctx, s.exec, func(ctx context.Context) (vablock.Classified, error) {
		b, err := vablock.BlockAt(ctx, s.t, addr)
		if err != nil {
			return vablock.Classified{}, err
		}
		g, err := s.classifier.Classify(ctx, b)
		if err != nil {
			return vablock.Classified{}, err
		}
		return vablock.Classified{Block: b, Group: g}, nil
	})
}

// SearchDefaults returns the configured search options; callers fill in
// the value and range.
func (s *Session) SearchDefaults() search.Options {
	return s.opts.Search
}

// Search streams matches of o from the worker.
func (s *Session) Search(ctx context.Context, o search.Options) iter.Seq2[search.Match, error] {
	return parallel.Stream(ctx, s.exec, func(ctx context.Context) iter.Seq2[search.Match, error] {
		return search.Search(ctx, s.t, s.t.Is32Bit(), o)
	})
}
