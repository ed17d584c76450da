package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackhou/buildbot/types"
)

// MemoryStore is an in-process Store used by unit tests and small
// deployments that don't need durability across restarts.
type MemoryStore struct {
	mu sync.Mutex

	requests map[int64]*memRequest
	builders map[string]int64
	nextID   int64

	builds     map[int64]*memBuild
	nextBuild  int64
	buildNums  map[int64]int64 // builderID -> last issued number
}

type memRequest struct {
	req     types.BuildRequest
	claimed bool
}

type memBuild struct {
	rec     BuildRecord
	number  int64
	results types.Results
	done    bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[int64]*memRequest),
		builders:  make(map[string]int64),
		builds:    make(map[int64]*memBuild),
		buildNums: make(map[int64]int64),
		nextID:    1,
		nextBuild: 1,
	}
}

// PutRequest seeds a pending, unclaimed build request, as a scheduler would.
// Test helper only.
func (m *MemoryStore) PutRequest(req types.BuildRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = &memRequest{req: req}
}

func (m *MemoryStore) GetBuildRequests(_ context.Context, builderName string, claimed bool) ([]types.BuildRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.BuildRequest
	for _, r := range m.requests {
		if r.req.BuilderName == builderName && r.claimed == claimed {
			out = append(out, r.req)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReclaimBuildRequests(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			r.claimed = true
		}
	}
	return nil
}

func (m *MemoryStore) UnclaimBuildRequests(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			r.claimed = false
		}
	}
	return nil
}

func (m *MemoryStore) CompleteBuildRequests(_ context.Context, ids []int64, _ types.Results, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.requests, id)
	}
	return nil
}

func (m *MemoryStore) AddBuild(_ context.Context, rec BuildRecord) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextBuild
	m.nextBuild++

	m.buildNums[rec.BuilderID]++
	number := m.buildNums[rec.BuilderID]

	m.builds[id] = &memBuild{rec: rec, number: number}
	return id, number, nil
}

func (m *MemoryStore) FinishBuild(_ context.Context, buildID int64, results types.Results) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[buildID]
	if !ok {
		return nil
	}
	b.results = results
	b.done = true
	return nil
}

func (m *MemoryStore) FindBuilderID(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.builders[name]; ok {
		return id, nil
	}
	id := m.nextID
	m.nextID++
	m.builders[name] = id
	return id, nil
}
