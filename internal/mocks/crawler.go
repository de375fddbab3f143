package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// MockFetcher is a mock page fetcher and robots source
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method
func (m *MockFetcher) Fetch(ctx context.Context, target util.NormalizedURL) *crawler.FetchResult {
	args := m.Called(ctx, target)

	if args.Get(0) == nil {
		return &crawler.FetchResult{
			Target:   target,
			FinalURL: target,
			Err:      &crawler.FetchError{Kind: crawler.FetchErrorNetwork, URL: target.String()},
		}
	}

	return args.Get(0).(*crawler.FetchResult)
}

// FetchRobots mocks the FetchRobots method
func (m *MockFetcher) FetchRobots(ctx context.Context, origin string) *crawler.RobotsRules {
	args := m.Called(ctx, origin)

	if args.Get(0) == nil {
		return crawler.AllowAll()
	}

	return args.Get(0).(*crawler.RobotsRules)
}
