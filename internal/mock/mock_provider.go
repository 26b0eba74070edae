package mock

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"

	"github.com/mem-analysis/internal/region"
	"github.com/mem-analysis/internal/target"
)

// MockProvider is a mock implementation of the region Provider interface.
// IdentifyRegions yields the configured regions and then the configured
// error, if any.
type MockProvider struct {
	mock.Mock
}

// Name mocks the Name method.
func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

// IdentifyRegions mocks the IdentifyRegions method.
func (m *MockProvider) IdentifyRegions(ctx context.Context, t target.Target) iter.Seq2[region.Region, error] {
	args := m.Called(ctx, t)
	var regions []region.Region
	if v := args.Get(0); v != nil {
		regions = v.([]region.Region)
	}
	err := args.Error(1)
	return func(yield func(region.Region, error) bool) {
		for _, r := range regions {
			if !yield(r, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

// ExpectName sets up an expectation for Name.
func (m *MockProvider) ExpectName(name string) *mock.Call {
	return m.On("Name").Return(name)
}

// ExpectIdentifyRegions sets up an expectation for IdentifyRegions.
func (m *MockProvider) ExpectIdentifyRegions(regions []region.Region, err error) *mock.Call {
	return m.On("IdentifyRegions", mock.Anything, mock.Anything).Return(regions, err)
}
