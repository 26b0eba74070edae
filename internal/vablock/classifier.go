package vablock

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/mem-analysis/internal/heap"
	"github.com/mem-analysis/internal/target"
	"github.com/mem-analysis/pkg/utils"
)

// GroupKind is the kind of owner a block is attributed to.
type GroupKind string

// Group kinds.
const (
	KindImage   GroupKind = "image"
	KindHeap    GroupKind = "heap"
	KindPrivate GroupKind = "private"
	KindMapped  GroupKind = "mapped"
	KindUnknown GroupKind = "unknown"
)

// Group is the owner of one or more blocks.
type Group struct {
	Kind GroupKind
	Name string
	// HeapBase is set for heap groups.
	HeapBase uint64
}

// Shared groups for blocks without a more specific owner.
var (
	PrivateGroup = &Group{Kind: KindPrivate, Name: "Private"}
	MappedGroup  = &Group{Kind: KindMapped, Name: "Mapped"}
	UnknownGroup = &Group{Kind: KindUnknown, Name: "Unknown"}
)

// DefaultModuleCacheSize bounds the image-group cache.
const DefaultModuleCacheSize = 256

// Classifier attributes blocks to groups. Image groups are cached per base
// address. The heap index is built on first successful use and never
// refreshed; create a new Classifier to pick up a changed heap set.
type Classifier struct {
	t       target.Target
	logger  utils.Logger
	modules *lru.Cache

	mu        sync.Mutex
	heapIndex map[uint64]*Group
	heapErr   error
}

// NewClassifier creates a Classifier whose image cache holds up to
// cacheSize entries.
func NewClassifier(t target.Target, cacheSize int, logger utils.Logger) (*Classifier, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultModuleCacheSize
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		t:       t,
		logger:  logger.WithField("component", "classifier"),
		modules: cache,
	}, nil
}

// Classify returns the group owning b.
func (c *Classifier) Classify(ctx context.Context, b Block) (*Group, error) {
	switch b.Type {
	case target.MemImage:
		return c.imageGroup(b.BaseAddress.Value()), nil
	case target.MemPrivate:
		index, err := c.heaps(ctx)
		if err != nil {
			return nil, err
		}
		if g, ok := index[b.BaseAddress.Value()]; ok {
			return g, nil
		}
		return PrivateGroup, nil
	case target.MemMapped:
		return MappedGroup, nil
	default:
		return UnknownGroup, nil
	}
}

func (c *Classifier) imageGroup(base uint64) *Group {
	if v, ok := c.modules.Get(base); ok {
		return v.(*Group)
	}
	name, err := ModuleNameAt(c.t, base)
	if err != nil {
		c.logger.Debug("No module for image block 0x%x: %v", base, err)
		return &Group{Kind: KindImage, Name: UnknownModule}
	}
	g := &Group{Kind: KindImage, Name: name}
	c.modules.Add(base, g)
	return g
}

// HeapIndexError returns the error from the last failed attempt to build
// the heap index, if the index is still missing.
func (c *Classifier) HeapIndexError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heapErr
}

// heaps builds the heap index on first success. After a failure the index
// stays unset and the next call tries again; private blocks are not
// attributed to heaps in the meantime.
func (c *Classifier) heaps(ctx context.Context) (map[uint64]*Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heapIndex != nil {
		return c.heapIndex, nil
	}

	heaps, err := heap.NewParser(c.t, c.logger).Heaps(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.heapErr == nil {
			c.logger.Warn("Heap index unavailable, private blocks will not be attributed to heaps: %v", err)
		}
		c.heapErr = err
		return nil, nil
	}

	index := make(map[uint64]*Group)
	for _, h := range heaps {
		g := &Group{Kind: KindHeap, Name: h.Name, HeapBase: h.Base.Value()}
		for _, s := range h.Segments {
			index[s.BaseAddress().Value()] = g
		}
		for _, v := range h.VirtualAllocBlocks {
			index[v.BaseAddress().Value()] = g
		}
	}
	c.heapIndex = index
	c.heapErr = nil
	return index, nil
}

// Classified is a block with its group.
type Classified struct {
	Block
	Group *Group
}

// ClassifyAll classifies every block of the target.
func (c *Classifier) ClassifyAll(ctx context.Context) ([]Classified, error) {
	var out []Classified
	for b, err := range AllBlocks(ctx, c.t) {
		if err != nil {
			return nil, err
		}
		g, err := c.Classify(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, Classified{Block: b, Group: g})
	}
	return out, nil
}
