// Copyright 2025 James Ross
package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FilesystemAdapterTestSuite struct {
	suite.Suite
	adapter *FilesystemAdapter
	ctx     context.Context
}

func (s *FilesystemAdapterTestSuite) SetupTest() {
	adapter, err := NewFilesystemAdapter(FilesystemConfig{
		BasePath:      s.T().TempDir(),
		UseLocks:      true,
		LockTimeout:   time.Second,
		DefaultTTL:    time.Hour,
		HashAlgorithm: "md5",
	}, nil)
	s.Require().NoError(err)
	s.adapter = adapter
	s.ctx = context.Background()
}

func (s *FilesystemAdapterTestSuite) TearDownTest() {
	if s.adapter != nil {
		s.adapter.Close()
	}
}

func (s *FilesystemAdapterTestSuite) newChunk(id string) *chunk.Chunk {
	parsed, err := chunk.ParseID(id)
	s.Require().NoError(err)
	c := chunk.New(id, parsed.FileKey, parsed.Type, map[string]any{"id": parsed.Identifier, "payload": "data"})
	return c
}

func (s *FilesystemAdapterTestSuite) TestSaveGetRoundTrip() {
	c := s.newChunk("fk:node:n1")
	c.Links = []string{"fk:node:c1"}
	s.Require().NoError(s.adapter.Save(s.ctx, c))

	got, err := s.adapter.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.Equal(c.ID, got.ID)
	s.Equal(c.FileKey, got.FileKey)
	s.Equal(c.Type, got.Type)
	s.True(c.Created.Equal(got.Created))
	s.Equal(c.Links, got.Links)
	s.Equal(c.Data, got.Data)
	s.False(got.LastAccessed.Before(c.LastAccessed), "lastAccessed is touched on read")
	s.NotNil(got.Expires, "default TTL applied on save")
}

func (s *FilesystemAdapterTestSuite) TestGetMissReturnsNil() {
	got, err := s.adapter.Get(s.ctx, "fk:node:missing")
	s.NoError(err)
	s.Nil(got)
}

func (s *FilesystemAdapterTestSuite) TestExpiredChunkEvictedOnGet() {
	c := s.newChunk("fk:node:expired")
	expires := time.Now().Add(-time.Millisecond)
	c.Expires = &expires
	s.Require().NoError(s.adapter.Save(s.ctx, c))

	path := s.adapter.chunkPath(c.ID)
	_, statErr := os.Stat(path)
	s.Require().NoError(statErr, "file exists before the read")

	got, err := s.adapter.Get(s.ctx, c.ID)
	s.NoError(err)
	s.Nil(got, "expired chunk reads as absent")

	_, statErr = os.Stat(path)
	s.True(os.IsNotExist(statErr), "expired file is unlinked")
}

func (s *FilesystemAdapterTestSuite) TestHasAndDelete() {
	c := s.newChunk("fk:node:n1")
	s.Require().NoError(s.adapter.Save(s.ctx, c))

	ok, err := s.adapter.Has(s.ctx, c.ID)
	s.NoError(err)
	s.True(ok)

	deleted, err := s.adapter.Delete(s.ctx, c.ID)
	s.NoError(err)
	s.True(deleted)

	deleted, err = s.adapter.Delete(s.ctx, c.ID)
	s.NoError(err)
	s.False(deleted, "second delete finds nothing")

	ok, err = s.adapter.Has(s.ctx, c.ID)
	s.NoError(err)
	s.False(ok)
}

func (s *FilesystemAdapterTestSuite) TestSaveIsUpsert() {
	c := s.newChunk("fk:node:n1")
	s.Require().NoError(s.adapter.Save(s.ctx, c))

	c.Data = map[string]any{"id": "n1", "payload": "updated"}
	s.Require().NoError(s.adapter.Save(s.ctx, c))

	got, err := s.adapter.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("updated", got.Data.(map[string]any)["payload"])
}

func (s *FilesystemAdapterTestSuite) TestListFiltersAndSorts() {
	for _, id := range []string{"fk:node:a", "fk:node:b", "other:metadata:core"} {
		s.Require().NoError(s.adapter.Save(s.ctx, s.newChunk(id)))
	}

	summaries, err := s.adapter.List(s.ctx, chunk.Filter{FileKey: "fk"})
	s.Require().NoError(err)
	s.Len(summaries, 2)

	summaries, err = s.adapter.List(s.ctx, chunk.Filter{Type: chunk.TypeMetadata})
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	s.Equal("other:metadata:core", summaries[0].ID)

	summaries, err = s.adapter.List(s.ctx, chunk.Filter{SortBy: chunk.SortByID, SortDirection: chunk.SortAsc, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)
	s.Equal("fk:node:a", summaries[0].ID)
}

func (s *FilesystemAdapterTestSuite) TestCleanupRemovesExpiredAndEmptyShards() {
	live := s.newChunk("fk:node:live")
	s.Require().NoError(s.adapter.Save(s.ctx, live))

	dead := s.newChunk("fk:node:dead")
	expires := time.Now().Add(-time.Minute)
	dead.Expires = &expires
	s.Require().NoError(s.adapter.Save(s.ctx, dead))
	deadDir := filepath.Dir(s.adapter.chunkPath(dead.ID))

	removed, err := s.adapter.Cleanup(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, removed)

	ok, err := s.adapter.Has(s.ctx, live.ID)
	s.NoError(err)
	s.True(ok, "live chunk survives cleanup")

	if deadDir != filepath.Dir(s.adapter.chunkPath(live.ID)) {
		_, statErr := os.Stat(deadDir)
		s.True(os.IsNotExist(statErr), "empty shard directory removed")
	}
}

func (s *FilesystemAdapterTestSuite) TestStaleLockReclaimed() {
	c := s.newChunk("fk:node:locked")
	lockPath := s.adapter.chunkPath(c.ID) + ".lock"
	s.Require().NoError(os.MkdirAll(filepath.Dir(lockPath), 0o755))
	s.Require().NoError(os.WriteFile(lockPath, []byte(`{"timestamp":0,"pid":1}`), 0o644))
	stale := time.Now().Add(-time.Minute)
	s.Require().NoError(os.Chtimes(lockPath, stale, stale))

	s.NoError(s.adapter.Save(s.ctx, c), "stale lock must not block the write")

	got, err := s.adapter.Get(s.ctx, c.ID)
	s.NoError(err)
	s.NotNil(got)
}

func (s *FilesystemAdapterTestSuite) TestHeldLockDoesNotBlock() {
	c := s.newChunk("fk:node:held")
	lockPath := s.adapter.chunkPath(c.ID) + ".lock"
	s.Require().NoError(os.MkdirAll(filepath.Dir(lockPath), 0o755))
	s.Require().NoError(os.WriteFile(lockPath, []byte(`{"timestamp":1,"pid":2}`), 0o644))

	// Availability over exclusivity: the save proceeds without the lock.
	s.NoError(s.adapter.Save(s.ctx, c))
}

func (s *FilesystemAdapterTestSuite) TestCorruptPayloadReadsAsAbsent() {
	c := s.newChunk("fk:node:corrupt")
	s.Require().NoError(s.adapter.Save(s.ctx, c))
	s.Require().NoError(os.WriteFile(s.adapter.chunkPath(c.ID), []byte("{broken"), 0o644))

	got, err := s.adapter.Get(s.ctx, c.ID)
	s.NoError(err)
	s.Nil(got)
}

func TestFilesystemAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(FilesystemAdapterTestSuite))
}

func TestFilesystemAdapterRequiresBasePath(t *testing.T) {
	_, err := NewFilesystemAdapter(FilesystemConfig{}, nil)
	require.Error(t, err)
}

func TestFilesystemAdapterRejectsUnknownHash(t *testing.T) {
	_, err := NewFilesystemAdapter(FilesystemConfig{BasePath: t.TempDir(), HashAlgorithm: "crc32"}, nil)
	require.Error(t, err)
}

func TestFilesystemHashAlgorithms(t *testing.T) {
	for _, alg := range []string{"md5", "sha1", "sha256"} {
		adapter, err := NewFilesystemAdapter(FilesystemConfig{BasePath: t.TempDir(), HashAlgorithm: alg}, nil)
		require.NoError(t, err, alg)
		c := chunk.New("fk:node:n1", "fk", chunk.TypeNode, nil)
		require.NoError(t, adapter.Save(context.Background(), c))
		got, err := adapter.Get(context.Background(), c.ID)
		require.NoError(t, err)
		require.NotNil(t, got, alg)
		adapter.Close()
	}
}
