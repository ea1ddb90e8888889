package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/casavox/casavox/pkg/chat/store"
)

type fakeCache struct {
	data  map[string][]byte
	gets  int
	fail  bool
	wrote int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.gets++
	if f.fail {
		return nil, errors.New("redis down")
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	if f.fail {
		return errors.New("redis down")
	}
	f.wrote++
	f.data[key] = val
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func TestEnsureSessionReusesLatest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := NewManager(st, nil, nil)

	first, err := m.EnsureSession(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if first.Title != "Chat with Casavox" {
		t.Fatalf("title = %q", first.Title)
	}
	again, err := m.EnsureSession(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("got new session %s, want reuse of %s", again.ID, first.ID)
	}

	// Anonymous callers never share a session.
	anonA, err := m.EnsureSession(ctx, "")
	if err != nil {
		t.Fatalf("EnsureSession anon: %v", err)
	}
	anonB, err := m.EnsureSession(ctx, "")
	if err != nil {
		t.Fatalf("EnsureSession anon: %v", err)
	}
	if anonA.ID == anonB.ID {
		t.Fatal("anonymous sessions were shared")
	}
}

func TestDialogStateDefaultsAwaitingNone(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := NewManager(st, nil, nil)

	s, err := m.EnsureSession(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	state, err := m.DialogState(ctx, s.ID)
	if err != nil {
		t.Fatalf("DialogState: %v", err)
	}
	if state[StateAwaiting] != AwaitingNone {
		t.Fatalf("awaiting = %v, want %q", state[StateAwaiting], AwaitingNone)
	}
}

func TestPatchDialogStateShallowMerge(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := NewManager(st, nil, nil)

	s, _ := m.EnsureSession(ctx, "u1")
	if _, err := m.PatchDialogState(ctx, s.ID, map[string]any{
		StateAwaiting: "phone",
		"city":        "Austin",
	}); err != nil {
		t.Fatalf("PatchDialogState: %v", err)
	}
	state, err := m.PatchDialogState(ctx, s.ID, map[string]any{
		StateAwaiting: AwaitingNone,
		"city":        nil, // nil deletes
	})
	if err != nil {
		t.Fatalf("PatchDialogState: %v", err)
	}
	if state[StateAwaiting] != AwaitingNone {
		t.Fatalf("awaiting = %v", state[StateAwaiting])
	}
	if _, ok := state["city"]; ok {
		t.Fatalf("city not deleted: %v", state)
	}

	// Unmentioned keys survive the merge.
	if _, err := m.PatchDialogState(ctx, s.ID, map[string]any{"beds": 2}); err != nil {
		t.Fatalf("PatchDialogState: %v", err)
	}
	state, _ = m.DialogState(ctx, s.ID)
	if state["beds"] == nil {
		t.Fatalf("beds dropped: %v", state)
	}
}

func TestDialogStateReadThroughCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cache := newFakeCache()
	m := NewManager(st, cache, nil)

	s, _ := m.EnsureSession(ctx, "u1")
	if _, err := m.PatchDialogState(ctx, s.ID, map[string]any{"city": "Austin"}); err != nil {
		t.Fatalf("PatchDialogState: %v", err)
	}
	if cache.wrote == 0 {
		t.Fatal("patch did not populate the cache")
	}

	// A cached read does not need the store: poison the store copy and the
	// cached value still wins.
	if err := st.SetDialogState(ctx, s.ID, map[string]any{"city": "Nowhere"}); err != nil {
		t.Fatalf("SetDialogState: %v", err)
	}
	state, err := m.DialogState(ctx, s.ID)
	if err != nil {
		t.Fatalf("DialogState: %v", err)
	}
	if state["city"] != "Austin" {
		t.Fatalf("city = %v, want cached Austin", state["city"])
	}
}

func TestDialogStateCacheFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cache := newFakeCache()
	cache.fail = true
	m := NewManager(st, cache, nil)

	s, _ := m.EnsureSession(ctx, "u1")
	if err := st.SetDialogState(ctx, s.ID, map[string]any{"city": "Austin"}); err != nil {
		t.Fatalf("SetDialogState: %v", err)
	}
	state, err := m.DialogState(ctx, s.ID)
	if err != nil {
		t.Fatalf("DialogState: %v", err)
	}
	if state["city"] != "Austin" {
		t.Fatalf("city = %v, want store fallback", state["city"])
	}
}

func TestDialogStateCorruptCacheEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cache := newFakeCache()
	m := NewManager(st, cache, nil)

	s, _ := m.EnsureSession(ctx, "u1")
	if err := st.SetDialogState(ctx, s.ID, map[string]any{"city": "Austin"}); err != nil {
		t.Fatalf("SetDialogState: %v", err)
	}
	cache.data[cacheKeyPrefix+s.ID] = []byte("{not json")

	state, err := m.DialogState(ctx, s.ID)
	if err != nil {
		t.Fatalf("DialogState: %v", err)
	}
	if state["city"] != "Austin" {
		t.Fatalf("city = %v, want store value after corrupt entry", state["city"])
	}
	// The corrupt entry was replaced with the store value.
	raw, ok := cache.data[cacheKeyPrefix+s.ID]
	if !ok {
		t.Fatal("cache not refilled")
	}
	var refreshed map[string]any
	if err := json.Unmarshal(raw, &refreshed); err != nil {
		t.Fatalf("refilled entry is not JSON: %v", err)
	}
}
