package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// MockMetricsProvider is a mock implementation of perf.Provider
type MockMetricsProvider struct {
	mock.Mock
}

// GetMetrics mocks the GetMetrics method
func (m *MockMetricsProvider) GetMetrics(ctx context.Context, u util.NormalizedURL, device perf.Device) (perf.Metrics, error) {
	args := m.Called(ctx, u, device)
	return args.Get(0).(perf.Metrics), args.Error(1)
}
