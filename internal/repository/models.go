package repository

import (
	"time"

	"github.com/mem-analysis/pkg/model"
)

// MapSnapshot represents the map_snapshots table.
type MapSnapshot struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:varchar(128);uniqueIndex"`
	Is32Bit     bool      `gorm:"column:is_32bit"`
	RegionCount int       `gorm:"column:region_count"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for MapSnapshot.
func (MapSnapshot) TableName() string {
	return "map_snapshots"
}

// ToModel converts MapSnapshot to model.SnapshotInfo.
func (s *MapSnapshot) ToModel() *model.SnapshotInfo {
	return &model.SnapshotInfo{
		ID:          s.ID,
		Name:        s.Name,
		Is32Bit:     s.Is32Bit,
		RegionCount: s.RegionCount,
		CreatedAt:   s.CreatedAt,
	}
}

// MapRegion represents the map_regions table. Regions of a snapshot are
// stored in depth-first order; Seq is the position in that order and Depth
// the nesting level, which together rebuild the tree. Addresses are stored
// as signed integers because not every driver accepts uint64 values with
// the high bit set.
type MapRegion struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotID  int64  `gorm:"column:snapshot_id;index:idx_region_lookup,priority:1"`
	Base        int64  `gorm:"column:base;index:idx_region_lookup,priority:2"`
	EndAddr     int64  `gorm:"column:end_addr"`
	Seq         int    `gorm:"column:seq"`
	Depth       int    `gorm:"column:depth"`
	Address     string `gorm:"column:address;type:varchar(32)"`
	Description string `gorm:"column:description;type:text"`
	Source      string `gorm:"column:source;type:varchar(16)"`
}

// TableName returns the table name for MapRegion.
func (MapRegion) TableName() string {
	return "map_regions"
}

// ToModel converts MapRegion to model.RegionRecord without children.
func (r *MapRegion) ToModel() model.RegionRecord {
	return model.RegionRecord{
		Base:        uint64(r.Base),
		Size:        uint64(r.EndAddr) - uint64(r.Base),
		Address:     r.Address,
		Description: r.Description,
		Source:      r.Source,
	}
}

// flattenRegions lays out a region tree in depth-first order.
func flattenRegions(snapshotID int64, regions []model.RegionRecord) []MapRegion {
	var out []MapRegion
	var walk func(rs []model.RegionRecord, depth int)
	walk = func(rs []model.RegionRecord, depth int) {
		for _, r := range rs {
			out = append(out, MapRegion{
				SnapshotID:  snapshotID,
				Base:        int64(r.Base),
				EndAddr:     int64(r.End()),
				Seq:         len(out),
				Depth:       depth,
				Address:     r.Address,
				Description: r.Description,
				Source:      r.Source,
			})
			walk(r.Children, depth+1)
		}
	}
	walk(regions, 0)
	return out
}

// buildTree is the inverse of flattenRegions. rows must be ordered by Seq.
func buildTree(rows []MapRegion) []model.RegionRecord {
	var build func(i, depth int) ([]model.RegionRecord, int)
	build = func(i, depth int) ([]model.RegionRecord, int) {
		var out []model.RegionRecord
		for i < len(rows) && rows[i].Depth >= depth {
			d := rows[i].Depth
			rec := rows[i].ToModel()
			i++
			rec.Children, i = build(i, d+1)
			out = append(out, rec)
		}
		return out, i
	}
	tree, _ := build(0, 0)
	return tree
}

// AllModels lists every table the repository uses.
func AllModels() []interface{} {
	return []interface{}{&MapSnapshot{}, &MapRegion{}}
}
