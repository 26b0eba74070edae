package model

// HeapRecord describes one native heap.
type HeapRecord struct {
	Base               uint64 `json:"base"`
	Address            string `json:"address"`
	Name               string `json:"name"`
	Encoding           uint64 `json:"encoding"`
	Segments           int    `json:"segments"`
	VirtualAllocBlocks int    `json:"virtual_alloc_blocks"`
	// Size is the total address range covered by segments and
	// virtual-alloc blocks.
	Size uint64 `json:"size"`
}
