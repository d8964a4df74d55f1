// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package file

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jeremyhahn/go-keyshard/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestStorage_PutGet(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Put("shards/f1/01", []byte{1, 2, 3}, nil))

	got, err := s.Get("shards/f1/01")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = os.Stat(filepath.Join(s.Root(), "shards", "f1", "01"))
	assert.NoError(t, err)
}

func TestStorage_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	s := newTestStorage(t)

	require.NoError(t, s.Put("shards/f1/01", []byte("x"), nil))
	require.NoError(t, s.Put("files/f1", []byte("x"), &storage.Options{Permissions: 0640}))

	info, err := os.Stat(filepath.Join(s.Root(), "shards", "f1", "01"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(s.Root(), "files", "f1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestStorage_Overwrite(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Put("files/a", []byte("a much longer first value"), nil))
	require.NoError(t, s.Put("files/a", []byte("short"), nil))

	got, err := s.Get("files/a")
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))
}

func TestStorage_DeletePrunesEmptyDirs(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Put("shards/f1/01", []byte("x"), nil))
	require.NoError(t, s.Put("shards/f1/02", []byte("x"), nil))

	require.NoError(t, s.Delete("shards/f1/01"))
	_, err := os.Stat(filepath.Join(s.Root(), "shards", "f1"))
	assert.NoError(t, err, "directory with remaining shards must stay")

	require.NoError(t, s.Delete("shards/f1/02"))
	_, err = os.Stat(filepath.Join(s.Root(), "shards"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(s.Root())
	assert.NoError(t, err, "root must never be pruned")

	assert.ErrorIs(t, s.Delete("shards/f1/02"), storage.ErrNotFound)
}

func TestStorage_List(t *testing.T) {
	s := newTestStorage(t)
	for _, key := range []string{"shards/b/02", "shards/a/01", "files/a", "shards/b/01"} {
		require.NoError(t, s.Put(key, []byte("x"), nil))
	}
	// stray temp file from an interrupted write
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "shards", tempPrefix+"123"), nil, 0600))

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/a", "shards/a/01", "shards/b/01", "shards/b/02"}, keys)

	keys, err = s.List("shards/b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"shards/b/01", "shards/b/02"}, keys)

	keys, err = s.List("missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStorage_Exists(t *testing.T) {
	s := newTestStorage(t)

	ok, err := s.Exists("files/a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("files/a", []byte("x"), nil))
	ok, err = s.Exists("files/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_InvalidKeys(t *testing.T) {
	s := newTestStorage(t)

	for _, key := range []string{"", "../escape", "shards/../../escape", "/etc/passwd", "a\x00b"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, s.Put(key, []byte("x"), nil), storage.ErrInvalidKey)
			_, err := s.Get(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
			_, err = s.Exists(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
			assert.ErrorIs(t, s.Delete(key), storage.ErrInvalidKey)
		})
	}
}

func TestStorage_Closed(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Put("files/a", []byte("x"), nil))
	require.NoError(t, s.Close())

	_, err := s.Get("files/a")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put("files/b", nil, nil), storage.ErrClosed)
	_, err = s.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestStorage_Reopen(t *testing.T) {
	root := t.TempDir()

	s, err := New(root)
	require.NoError(t, err)
	require.NoError(t, s.Put("files/a", []byte("persisted"), nil))
	require.NoError(t, s.Close())

	s2, err := New(root)
	require.NoError(t, err)
	got, err := s2.Get("files/a")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}
