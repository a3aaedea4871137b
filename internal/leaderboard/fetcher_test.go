package leaderboard

import (
	"context"
	"sync"

	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

type fetchCall struct {
	startTime string
	endTime   string
}

// fakeFetcher records calls and answers them from a callback.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall

	fetch func(startTime, endTime string) (upstream.Snapshot, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, startTime, endTime string) (upstream.Snapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{startTime: startTime, endTime: endTime})
	fetch := f.fetch
	f.mu.Unlock()

	if fetch == nil {
		return upstream.Snapshot{}, nil
	}

	return fetch(startTime, endTime)
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]fetchCall(nil), f.calls...)
}
