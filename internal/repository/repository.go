// Package repository persists address-map snapshots.
package repository

import (
	"context"

	"github.com/mem-analysis/pkg/model"
)

// SnapshotRepository stores address maps so they can be compared and
// queried after the target is gone.
type SnapshotRepository interface {
	// SaveSnapshot stores regions, children included, under name. A
	// snapshot with the same name is replaced.
	SaveSnapshot(ctx context.Context, name string, is32 bool, regions []model.RegionRecord) (*model.SnapshotInfo, error)

	// GetSnapshot returns a snapshot and its region tree.
	GetSnapshot(ctx context.Context, id int64) (*model.SnapshotInfo, []model.RegionRecord, error)

	// GetSnapshotByName returns the snapshot stored under name.
	GetSnapshotByName(ctx context.Context, name string) (*model.SnapshotInfo, error)

	// ListSnapshots returns the most recent snapshots first.
	ListSnapshots(ctx context.Context, limit int) ([]model.SnapshotInfo, error)

	// FindContaining returns the stored regions containing addr, outermost
	// first.
	FindContaining(ctx context.Context, snapshotID int64, addr uint64) ([]model.RegionRecord, error)

	// DeleteSnapshot removes a snapshot and its regions.
	DeleteSnapshot(ctx context.Context, id int64) error
}
