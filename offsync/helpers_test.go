// Copyright 2025 Roman Lazarev
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(EntityType{
		Name:       "office",
		Columns:    []string{"name", "city"},
		NaturalKey: []string{"name"},
	}))
	require.NoError(t, reg.Register(EntityType{
		Name:       "category",
		Columns:    []string{"name"},
		NaturalKey: []string{"name"},
	}))
	return reg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, testRegistry(t), nil)
	require.NoError(t, err)
	return store
}

func newTestCoordinator(t *testing.T, store *Store, remote Remote) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(store, remote, nil)
	require.NoError(t, err)
	return coord
}

// fakeRemote is an in-memory remote backend with failure injection.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int
	records map[string]map[string]RemoteRecord // entity -> remote id -> record

	failCreate      error
	failUpdate      error
	failUpdateAfter int // when set, only update calls beyond this count fail
	failDelete      error
	failList        map[string]error
	blockList       chan struct{} // when set, List waits for a receive

	createCalls int
	updateCalls int
	deleteCalls int
	listCalls   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[string]map[string]RemoteRecord),
		failList: make(map[string]error),
	}
}

func (f *fakeRemote) bucket(entity string) map[string]RemoteRecord {
	if f.records[entity] == nil {
		f.records[entity] = make(map[string]RemoteRecord)
	}
	return f.records[entity]
}

// seed places a record directly into the fake backend.
func (f *fakeRemote) seed(entity string, rr RemoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket(entity)[rr.RemoteID] = rr
}

func (f *fakeRemote) get(entity, remoteID string) (RemoteRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr, ok := f.bucket(entity)[remoteID]
	return rr, ok
}

func (f *fakeRemote) Create(ctx context.Context, entity string, payload Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		return "", f.failCreate
	}
	f.nextID++
	id := fmt.Sprintf("r-%d", f.nextID)
	f.bucket(entity)[id] = RemoteRecord{
		RemoteID:  id,
		UUID:      payload.UUID,
		Fields:    payload.Fields.Clone(),
		CreatedAt: payload.UpdatedAt.Time(),
		UpdatedAt: payload.UpdatedAt.Time(),
	}
	return id, nil
}

func (f *fakeRemote) Update(ctx context.Context, entity, remoteID string, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate != nil && f.updateCalls > f.failUpdateAfter {
		return f.failUpdate
	}
	rr, ok := f.bucket(entity)[remoteID]
	if !ok || rr.DeletedAt != nil {
		return &RemoteCallError{Entity: entity, Op: "update", Err: fmt.Errorf("row %s missing or deleted", remoteID)}
	}
	rr.Fields = payload.Fields.Clone()
	rr.UpdatedAt = payload.UpdatedAt.Time()
	f.bucket(entity)[remoteID] = rr
	return nil
}

func (f *fakeRemote) SoftDelete(ctx context.Context, entity, remoteID string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failDelete != nil {
		return f.failDelete
	}
	rr, ok := f.bucket(entity)[remoteID]
	if !ok {
		return &RemoteCallError{Entity: entity, Op: "soft-delete", Err: fmt.Errorf("row %s missing", remoteID)}
	}
	at := deletedAt
	rr.DeletedAt = &at
	rr.UpdatedAt = deletedAt
	f.bucket(entity)[remoteID] = rr
	return nil
}

func (f *fakeRemote) List(ctx context.Context, entity string) ([]RemoteRecord, error) {
	if f.blockList != nil {
		<-f.blockList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.failList[entity]; err != nil {
		return nil, err
	}
	out := make([]RemoteRecord, 0, len(f.bucket(entity)))
	for _, rr := range f.bucket(entity) {
		out = append(out, rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
