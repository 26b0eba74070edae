package model

// BlockRecord is one virtual-memory allocation block and the group that
// owns it.
type BlockRecord struct {
	Base        uint64 `json:"base"`
	Address     string `json:"address"`
	Size        uint64 `json:"size"`
	CommitSize  uint64 `json:"commit_size"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	GroupKind   string `json:"group_kind"`
	GroupName   string `json:"group_name"`
}

// GroupSummary totals the blocks owned by one group.
type GroupSummary struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Blocks     int    `json:"blocks"`
	Size       uint64 `json:"size"`
	CommitSize uint64 `json:"commit_size"`
}

// SummarizeBlocks groups blocks by owner, keeping first-seen order.
func SummarizeBlocks(blocks []BlockRecord) []GroupSummary {
	index := make(map[[2]string]int)
	var out []GroupSummary
	for _, b := range blocks {
		key := [2]string{b.GroupKind, b.GroupName}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, GroupSummary{Kind: b.GroupKind, Name: b.GroupName})
		}
		out[i].Blocks++
		out[i].Size += b.Size
		out[i].CommitSize += b.CommitSize
	}
	return out
}

// MatchRecord is one search hit.
type MatchRecord struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
	Width   int    `json:"width"`
}
