package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/model"
)

// insertBatchSize bounds the rows per INSERT statement.
const insertBatchSize = 500

// GormSnapshotRepository implements SnapshotRepository using GORM.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// SaveSnapshot stores regions under name, replacing any earlier snapshot
// with that name.
func (r *GormSnapshotRepository) SaveSnapshot(ctx context.Context, name string, is32 bool, regions []model.RegionRecord) (*model.SnapshotInfo, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "snapshot name is required")
	}

	var snap MapSnapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing MapSnapshot
		err := tx.Where("name = ?", name).First(&existing).Error
		switch {
		case err == nil:
			if err := deleteSnapshot(tx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		snap = MapSnapshot{Name: name, Is32Bit: is32}
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}
		rows := flattenRegions(snap.ID, regions)
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return err
		}
		snap.RegionCount = len(rows)
		return tx.Model(&MapSnapshot{}).Where("id = ?", snap.ID).Update("region_count", snap.RegionCount).Error
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save snapshot", err)
	}
	return snap.ToModel(), nil
}

// GetSnapshot returns a snapshot and its region tree.
func (r *GormSnapshotRepository) GetSnapshot(ctx context.Context, id int64) (*model.SnapshotInfo, []model.RegionRecord, error) {
	var snap MapSnapshot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&snap).Error; err != nil {
		return nil, nil, notFoundOr(err, "snapshot not found: %d", id)
	}

	var rows []MapRegion
	err := r.db.WithContext(ctx).
		Where("snapshot_id = ?", id).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load regions", err)
	}
	return snap.ToModel(), buildTree(rows), nil
}

// GetSnapshotByName returns the snapshot stored under name.
func (r *GormSnapshotRepository) GetSnapshotByName(ctx context.Context, name string) (*model.SnapshotInfo, error) {
	var snap MapSnapshot
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&snap).Error; err != nil {
		return nil, notFoundOr(err, "snapshot not found: %s", name)
	}
	return snap.ToModel(), nil
}

// ListSnapshots returns the most recent snapshots first. A non-positive
// limit returns all of them.
func (r *GormSnapshotRepository) ListSnapshots(ctx context.Context, limit int) ([]model.SnapshotInfo, error) {
	var snaps []MapSnapshot
	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&snaps).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list snapshots", err)
	}

	result := make([]model.SnapshotInfo, len(snaps))
	for i := range snaps {
		result[i] = *snaps[i].ToModel()
	}
	return result, nil
}

// FindContaining returns the stored regions containing addr, outermost
// first.
func (r *GormSnapshotRepository) FindContaining(ctx context.Context, snapshotID int64, addr uint64) ([]model.RegionRecord, error) {
	var rows []MapRegion
	err := r.db.WithContext(ctx).
		Where("snapshot_id = ? AND base <= ? AND end_addr > ?", snapshotID, int64(addr), int64(addr)).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query regions", err)
	}

	result := make([]model.RegionRecord, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// DeleteSnapshot removes a snapshot and its regions.
func (r *GormSnapshotRepository) DeleteSnapshot(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSnapshot(tx, id)
	})
	if err != nil {
		return notFoundOr(err, "snapshot not found: %d", id)
	}
	return nil
}

func deleteSnapshot(tx *gorm.DB, id int64) error {
	if err := tx.Where("snapshot_id = ?", id).Delete(&MapRegion{}).Error; err != nil {
		return err
	}
	result := tx.Where("id = ?", id).Delete(&MapSnapshot{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Newf(apperrors.CodeNotFound, format, args...)
	}
	return apperrors.Wrap(apperrors.CodeDatabaseError, "database query failed", err)
}
