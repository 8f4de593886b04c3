// Copyright 2025 James Ross
package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is an in-memory Adapter for manager tests.
type fakeAdapter struct {
	name     string
	chunks   map[string]*chunk.Chunk
	cleanups int
	closed   bool
	failNext error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, chunks: make(map[string]*chunk.Chunk)}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Save(ctx context.Context, c *chunk.Chunk) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.chunks[c.ID] = c
	return nil
}

func (f *fakeAdapter) Get(ctx context.Context, id string) (*chunk.Chunk, error) {
	return f.chunks[id], nil
}

func (f *fakeAdapter) Has(ctx context.Context, id string) (bool, error) {
	_, ok := f.chunks[id]
	return ok, nil
}

func (f *fakeAdapter) Delete(ctx context.Context, id string) (bool, error) {
	_, ok := f.chunks[id]
	delete(f.chunks, id)
	return ok, nil
}

func (f *fakeAdapter) List(ctx context.Context, filter chunk.Filter) ([]chunk.Summary, error) {
	var all []*chunk.Chunk
	for _, c := range f.chunks {
		all = append(all, c)
	}
	return filter.Apply(all, chunk.Now()), nil
}

func (f *fakeAdapter) Cleanup(ctx context.Context) (int, error) {
	f.cleanups++
	return 0, nil
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func TestManagerDefaultAdapter(t *testing.T) {
	m := NewManager(nil)
	first := newFakeAdapter("first")
	second := newFakeAdapter("second")
	m.Register("first", first)
	m.Register("second", second)

	adapter, err := m.Adapter("")
	require.NoError(t, err)
	assert.Equal(t, "first", adapter.Name(), "first registration is the default")

	require.NoError(t, m.SetDefault("second"))
	adapter, err = m.Adapter("")
	require.NoError(t, err)
	assert.Equal(t, "second", adapter.Name())

	assert.ErrorIs(t, m.SetDefault("nope"), ErrAdapterNotFound)
	_, err = m.Adapter("nope")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}

func TestManagerDelegations(t *testing.T) {
	m := NewManager(nil)
	fake := newFakeAdapter("fake")
	m.Register("fake", fake)
	ctx := context.Background()

	c := chunk.New("fk:node:n1", "fk", chunk.TypeNode, nil)
	require.NoError(t, m.Save(ctx, c))

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	ok, err := m.Has(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	summaries, err := m.List(ctx, chunk.Filter{})
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	deleted, err := m.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestManagerSaveAllStopsOnFailure(t *testing.T) {
	m := NewManager(nil)
	fake := newFakeAdapter("fake")
	m.Register("fake", fake)

	fake.failNext = errors.New("disk full")
	chunks := []*chunk.Chunk{
		chunk.New("fk:node:a", "fk", chunk.TypeNode, nil),
		chunk.New("fk:node:b", "fk", chunk.TypeNode, nil),
	}
	err := m.SaveAll(context.Background(), chunks)
	assert.Error(t, err)
	assert.Empty(t, fake.chunks, "failed first save persists nothing")

	require.NoError(t, m.SaveAll(context.Background(), chunks), "retry with the same ids upserts")
	assert.Len(t, fake.chunks, 2)
}

func TestManagerCleanupAllFansOut(t *testing.T) {
	m := NewManager(nil)
	a := newFakeAdapter("a")
	b := newFakeAdapter("b")
	m.Register("a", a)
	m.Register("b", b)

	results := m.CleanupAll(context.Background())
	assert.Len(t, results, 2)
	assert.Equal(t, 1, a.cleanups)
	assert.Equal(t, 1, b.cleanups)
}

func TestManagerDispose(t *testing.T) {
	m := NewManager(nil)
	fake := newFakeAdapter("fake")
	m.Register("fake", fake)

	require.NoError(t, m.Dispose())
	assert.True(t, fake.closed)

	_, err := m.Adapter("")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}
