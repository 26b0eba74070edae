// Package mock holds testify mocks for the object store.
package mock

import (
	"context"
	"io"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/mem-analysis/internal/storage"
)

var _ storage.Storage = (*MockStorage)(nil)

// MockStorage records object-store calls. The Expect helpers match any
// context and reader.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	return m.Called(ctx, key, reader).Error(0)
}

func (m *MockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ret := m.Called(ctx, key)
	body, _ := ret.Get(0).(io.ReadCloser)
	return body, ret.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	ret := m.Called(ctx, key)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]string, error) {
	ret := m.Called(ctx, prefix)
	keys, _ := ret.Get(0).([]string)
	return keys, ret.Error(1)
}

func (m *MockStorage) GetURL(key string) string {
	return m.Called(key).String(0)
}

func (m *MockStorage) ExpectUpload(key string, err error) *mock.Call {
	return m.On("Upload", mock.Anything, key, mock.Anything).Return(err)
}

// ExpectDownload serves body for key; a non-nil err yields no body.
func (m *MockStorage) ExpectDownload(key, body string, err error) *mock.Call {
	if err != nil {
		return m.On("Download", mock.Anything, key).Return(nil, err)
	}
	return m.On("Download", mock.Anything, key).Return(io.NopCloser(strings.NewReader(body)), nil)
}

func (m *MockStorage) ExpectList(prefix string, keys []string, err error) *mock.Call {
	return m.On("List", mock.Anything, prefix).Return(keys, err)
}
