package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mem-analysis/pkg/model"
)

// MockSnapshotRepository is a mock implementation of the SnapshotRepository
// interface.
type MockSnapshotRepository struct {
	mock.Mock
}

// SaveSnapshot mocks the SaveSnapshot method.
func (m *MockSnapshotRepository) SaveSnapshot(ctx context.Context, name string, is32 bool, regions []model.RegionRecord) (*model.SnapshotInfo, error) {
	args := m.Called(ctx, name, is32, regions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SnapshotInfo), args.Error(1)
}

// GetSnapshot mocks the GetSnapshot method.
func (m *MockSnapshotRepository) GetSnapshot(ctx context.Context, id int64) (*model.SnapshotInfo, []model.RegionRecord, error) {
	args := m.Called(ctx, id)
	var info *model.SnapshotInfo
	if v := args.Get(0); v != nil {
		info = v.(*model.SnapshotInfo)
	}
	var regions []model.RegionRecord
	if v := args.Get(1); v != nil {
		regions = v.([]model.RegionRecord)
	}
	return info, regions, args.Error(2)
}

// GetSnapshotByName mocks the GetSnapshotByName method.
func (m *MockSnapshotRepository) GetSnapshotByName(ctx context.Context, name string) (*model.SnapshotInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SnapshotInfo), args.Error(1)
}

// ListSnapshots mocks the ListSnapshots method.
func (m *MockSnapshotRepository) ListSnapshots(ctx context.Context, limit int) ([]model.SnapshotInfo, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SnapshotInfo), args.Error(1)
}

// FindContaining mocks the FindContaining method.
func (m *MockSnapshotRepository) FindContaining(ctx context.Context, snapshotID int64, addr uint64) ([]model.RegionRecord, error) {
	args := m.Called(ctx, snapshotID, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RegionRecord), args.Error(1)
}

// DeleteSnapshot mocks the DeleteSnapshot method.
func (m *MockSnapshotRepository) DeleteSnapshot(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// ExpectSaveSnapshot sets up an expectation for SaveSnapshot with any
// region list.
func (m *MockSnapshotRepository) ExpectSaveSnapshot(name string, info *model.SnapshotInfo, err error) *mock.Call {
	return m.On("SaveSnapshot", mock.Anything, name, mock.Anything, mock.Anything).Return(info, err)
}

// ExpectListSnapshots sets up an expectation for ListSnapshots.
func (m *MockSnapshotRepository) ExpectListSnapshots(snaps []model.SnapshotInfo, err error) *mock.Call {
	return m.On("ListSnapshots", mock.Anything, mock.Anything).Return(snaps, err)
}
