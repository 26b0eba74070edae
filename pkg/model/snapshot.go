package model

import "time"

// SnapshotInfo describes a persisted address map.
type SnapshotInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Is32Bit     bool      `json:"is_32bit"`
	RegionCount int       `json:"region_count"`
	CreatedAt   time.Time `json:"created_at"`
}
