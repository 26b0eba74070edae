package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/model"
)

func newMySQLMock(t *testing.T) (*GormSnapshotRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewGormSnapshotRepository(gdb), mock
}

func TestMySQLSnapshotRepository_ListSnapshots(t *testing.T) {
	repo, mock := newMySQLMock(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "is_32bit", "region_count", "created_at"}).
		AddRow(int64(2), "after", false, 12, now).
		AddRow(int64(1), "before", true, 10, now)
	mock.ExpectQuery("SELECT \\* FROM `map_snapshots` ORDER BY id DESC").WillReturnRows(rows)

	list, err := repo.ListSnapshots(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "after", list[0].Name)
	assert.True(t, list[1].Is32Bit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_FindContaining(t *testing.T) {
	repo, mock := newMySQLMock(t)

	rows := sqlmock.NewRows([]string{"id", "snapshot_id", "base", "end_addr", "seq", "depth", "address", "description", "source"}).
		AddRow(int64(1), int64(7), int64(0x1000), int64(0x2000), 0, 0, "00001000", "outer", "provider").
		AddRow(int64(2), int64(7), int64(0x1000), int64(0x1100), 1, 1, "00001000", "inner", "child")
	mock.ExpectQuery("SELECT \\* FROM `map_regions` WHERE snapshot_id = \\? AND base <= \\? AND end_addr > \\? ORDER BY seq ASC").
		WithArgs(int64(7), int64(0x1010), int64(0x1010)).
		WillReturnRows(rows)

	stack, err := repo.FindContaining(context.Background(), 7, 0x1010)
	require.NoError(t, err)
	assert.Equal(t, []model.RegionRecord{
		{Base: 0x1000, Size: 0x1000, Address: "00001000", Description: "outer", Source: "provider"},
		{Base: 0x1000, Size: 0x100, Address: "00001000", Description: "inner", Source: "child"},
	}, stack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_QueryError(t *testing.T) {
	repo, mock := newMySQLMock(t)

	mock.ExpectQuery("SELECT \\* FROM `map_regions`").WillReturnError(errors.New("connection reset"))

	_, err := repo.FindContaining(context.Background(), 1, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
}

func TestMySQLSnapshotRepository_SaveSnapshot(t *testing.T) {
	repo, mock := newMySQLMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `map_snapshots` WHERE name = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_32bit", "region_count", "created_at"}))
	mock.ExpectExec("INSERT INTO `map_snapshots`").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec("INSERT INTO `map_regions`").WillReturnResult(sqlmock.NewResult(10, 2))
	mock.ExpectExec("UPDATE `map_snapshots` SET `region_count`=\\?").
		WithArgs(2, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	info, err := repo.SaveSnapshot(context.Background(), "s", false, []model.RegionRecord{
		{Base: 0x1000, Size: 0x1000, Children: []model.RegionRecord{{Base: 0x1000, Size: 0x10}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.ID)
	assert.Equal(t, 2, info.RegionCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSnapshotRepository_SaveRollsBack(t *testing.T) {
	repo, mock := newMySQLMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `map_snapshots`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `map_snapshots`").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.SaveSnapshot(context.Background(), "s", false, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
