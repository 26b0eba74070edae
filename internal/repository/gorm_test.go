package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := Open(sqlite.Open(":memory:"), 1)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func sampleRegions() []model.RegionRecord {
	return []model.RegionRecord{
		{
			Base: 0x100000, Size: 0x10000, Address: "00000000`00100000",
			Description: "Default Heap Segment", Source: "provider",
			Children: []model.RegionRecord{
				{
					Base: 0x100808, Size: 0x20, Description: "Default Heap Entry (0x10 bytes)", Source: "child",
					Children: []model.RegionRecord{
						{Base: 0x100808, Size: 0x8, Description: "Default Heap Entry Header", Source: "child"},
						{Base: 0x100810, Size: 0x10, Description: "Default Heap Entry Body (10)", Source: "child"},
					},
				},
			},
		},
		{Base: 0x400000, Size: 0x1000, Address: "00000000`00400000", Description: "app", Source: "provider"},
	}
}

func TestGormSnapshotRepository_SaveAndGet(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	info, err := repo.SaveSnapshot(ctx, "before", false, sampleRegions())
	require.NoError(t, err)
	assert.NotZero(t, info.ID)
	assert.Equal(t, "before", info.Name)
	assert.Equal(t, 5, info.RegionCount)

	got, regions, err := repo.GetSnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
	assert.False(t, got.Is32Bit)
	assert.Equal(t, 5, got.RegionCount)
	assert.Equal(t, sampleRegions(), regions)

	byName, err := repo.GetSnapshotByName(ctx, "before")
	require.NoError(t, err)
	assert.Equal(t, info.ID, byName.ID)
}

func TestGormSnapshotRepository_SaveReplacesByName(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.SaveSnapshot(ctx, "live", false, sampleRegions())
	require.NoError(t, err)
	second, err := repo.SaveSnapshot(ctx, "live", true, sampleRegions()[1:])
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	list, err := repo.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
	assert.True(t, list[0].Is32Bit)
	assert.Equal(t, 1, list[0].RegionCount)

	_, _, err = repo.GetSnapshot(ctx, first.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGormSnapshotRepository_EmptySnapshot(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	info, err := repo.SaveSnapshot(ctx, "empty", false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, info.RegionCount)

	_, regions, err := repo.GetSnapshot(ctx, info.ID)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestGormSnapshotRepository_SaveRequiresName(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	_, err := repo.SaveSnapshot(context.Background(), "", false, nil)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestGormSnapshotRepository_ListSnapshots(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		list, err := repo.ListSnapshots(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("NewestFirst", func(t *testing.T) {
		for _, name := range []string{"a", "b", "c"} {
			_, err := repo.SaveSnapshot(ctx, name, false, nil)
			require.NoError(t, err)
		}
		list, err := repo.ListSnapshots(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "c", list[0].Name)
		assert.Equal(t, "b", list[1].Name)
	})
}

func TestGormSnapshotRepository_FindContaining(t *testing.T) {
	repo := NewGormSnapshotRepository(setupTestDB(t))
	ctx := context.Background()

	info, err := repo.SaveSnapshot(ctx, "s", false, sampleRegions())
	require.NoError(t, err)

	tests := []struct {
		name     string
		addr     uint64
		expected []string
	}{
		{"Body", 0x100818, []string{
			"Default Heap Segment",
			"Default Heap Entry (0x10 bytes)",
			"Default Heap Entry Body (10)",
		}},
		{"Header", 0x100808, []string{
			"Default Heap Segment",
			"Default Heap Entry (0x10 bytes)",
			"Default Heap Entry Header",
		}},
		{"SegmentOnly", 0x10f000, []string{"Default Heap Segment"}},
		{"Module", 0x400fff, []string{"app"}},
		{"Nothing", 0x401000, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack, err := repo.FindContaining(ctx, info.ID, tt.addr)
			require.NoError(t, err)
			var got []string
			for _, r := range stack {
				got = append(got, r.Description)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGormSnapshotRepository_DeleteSnapshot(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSnapshotRepository(db)
	ctx := context.Background()

	info, err := repo.SaveSnapshot(ctx, "gone", false, sampleRegions())
	require.NoError(t, err)
	require.NoError(t, repo.DeleteSnapshot(ctx, info.ID))

	var count int64
	require.NoError(t, db.Model(&MapRegion{}).Count(&count).Error)
	assert.Zero(t, count)

	err = repo.DeleteSnapshot(ctx, info.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.GetSnapshotByName(ctx, "gone")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestBuildTree(t *testing.T) {
	rows := flattenRegions(1, sampleRegions())
	require.Len(t, rows, 5)
	assert.Equal(t, []int{0, 1, 2, 2, 0}, []int{rows[0].Depth, rows[1].Depth, rows[2].Depth, rows[3].Depth, rows[4].Depth})
	for i, r := range rows {
		assert.Equal(t, i, r.Seq)
		assert.Equal(t, int64(1), r.SnapshotID)
	}
	assert.Equal(t, sampleRegions(), buildTree(rows))

	t.Run("SkippedLevel", func(t *testing.T) {
		rows := []MapRegion{
			{Base: 0, EndAddr: 0x100, Depth: 0},
			{Base: 0x10, EndAddr: 0x20, Depth: 2},
			{Base: 0x200, EndAddr: 0x300, Depth: 0},
		}
		tree := buildTree(rows)
		require.Len(t, tree, 2)
		require.Len(t, tree[0].Children, 1)
		assert.Equal(t, uint64(0x10), tree[0].Children[0].Base)
	})
}
