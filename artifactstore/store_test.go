// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package artifactstore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/gpu-memtrace/kernel"
)

func build(name string, id kernel.ID) Build {
	return Build{ID: id, Name: name, Identity: name + "___SIMD16"}
}

func writeArtifact(t *testing.T, s *Store, b Build, execDesc string, data []byte) {
	t.Helper()
	w, err := s.Create(b, execDesc, "memtrace.bin")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit(Info{Threads: 1, Records: 2, Truncated: true}))
}

func TestStoreCommit(t *testing.T) {
	s, err := New(t.TempDir(), "v1.2.3")
	require.NoError(t, err)

	writeArtifact(t, s, build("my kernel", 1), "skl_gws_8_1_1_lws_8_1_1_enqueue_0",
		[]byte("payload"))

	entries := s.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, filepath.Join("my_kernel_1", "skl_gws_8_1_1_lws_8_1_1_enqueue_0",
		"memtrace.bin"), e.Path)
	assert.Equal(t, "my kernel", e.Kernel)
	assert.Equal(t, "my_kernel_1", e.Build)
	assert.Equal(t, "my kernel___SIMD16", e.Identity)
	assert.Equal(t, int64(7), e.Size)
	assert.Equal(t, 2, e.Records)
	assert.True(t, e.Truncated)

	expected, err := CalculateID(strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, expected, e.ID)

	content, err := os.ReadFile(s.Path(&e))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)
	require.NoError(t, s.Verify(&e))

	// No temporary files stay behind.
	files, err := os.ReadDir(filepath.Dir(s.Path(&e)))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestStoreAbort(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)

	w, err := s.Create(build("k", 1), "d", "memtrace.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	w.Abort()
	w.Abort()
	assert.Error(t, w.Commit(Info{}))

	assert.Empty(t, s.Entries())
	files, err := os.ReadDir(filepath.Join(s.Dir(), "k_1", "d"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestManifestRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)
	writeArtifact(t, s, build("b", 2), "d0", []byte{1, 2, 3})
	writeArtifact(t, s, build("a", 1), "d0", []byte{5, 6})
	require.NoError(t, s.WriteKernelFile(build("a", 1), "asm.txt", []byte("send")))
	require.NoError(t, s.WriteManifest())

	opened, err := Open(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, s.Session(), opened.Session())
	assert.Equal(t, s.Entries(), opened.Entries())
	require.Len(t, opened.Entries(), 2)
	assert.Equal(t, int64(2), opened.Entries()[0].Size)

	asm, err := os.ReadFile(filepath.Join(s.Dir(), "a_1", "asm.txt"))
	require.NoError(t, err)
	assert.Equal(t, "send", string(asm))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), ManifestName))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "dev", m["version"])
}

func TestStoreSeparatesBuilds(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)
	simd16, simd8 := build("reduce", 1), build("reduce", 2)

	writeArtifact(t, s, simd16, "skl_enqueue_0", []byte{16})
	writeArtifact(t, s, simd8, "skl_enqueue_0", []byte{8})
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Path, entries[1].Path)
	for _, e := range entries {
		assert.Equal(t, "reduce", e.Kernel)
		require.NoError(t, s.Verify(&e))
	}

	// A committed artifact is never replaced.
	_, err = s.Create(simd16, "skl_enqueue_0", "memtrace.bin")
	require.ErrorIs(t, err, ErrExists)
	assert.Len(t, s.Entries(), 2)
}

func TestStoreRejectsPendingDuplicate(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)
	b := build("k", 1)

	first, err := s.Create(b, "d", "memtrace.bin")
	require.NoError(t, err)
	_, err = s.Create(b, "d", "memtrace.bin")
	require.ErrorIs(t, err, ErrExists)

	// An aborted artifact frees its path.
	first.Abort()
	second, err := s.Create(b, "d", "memtrace.bin")
	require.NoError(t, err)
	require.NoError(t, second.Commit(Info{}))
	assert.Len(t, s.Entries(), 1)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)
	writeArtifact(t, s, build("k", 1), "d", []byte("original"))
	e := s.Entries()[0]
	require.NoError(t, os.WriteFile(s.Path(&e), []byte("tampered"), 0o644))
	assert.Error(t, s.Verify(&e))
}

func TestIDFromString(t *testing.T) {
	id, err := CalculateID(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		id.String())
	parsed, err := IDFromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = IDFromString("abc")
	assert.Error(t, err)
}

type memRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (r *memRemote) Exists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[key]
	return ok, nil
}

func (r *memRemote) Put(_ context.Context, key string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = body
	return nil
}

func TestUpload(t *testing.T) {
	s, err := New(t.TempDir(), "dev")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("slm"), 1000)
	writeArtifact(t, s, build("k", 1), "d0", payload)
	writeArtifact(t, s, build("k", 1), "d1", payload)
	require.NoError(t, s.WriteManifest())

	entries := s.Entries()
	remote := &memRemote{objects: map[string][]byte{
		s.ObjectKey(DefaultKeyPrefix, &entries[1]): []byte("present"),
	}}

	n, err := s.Upload(context.Background(), remote, DefaultKeyPrefix, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := s.ObjectKey(DefaultKeyPrefix, &entries[0])
	assert.True(t, strings.HasPrefix(key, "memtrace/"+s.Session().String()+"/k_1/d0/"))
	compressed := remote.objects[key]
	require.NotNil(t, compressed)
	assert.Less(t, len(compressed), len(payload))
	restored, err := Decompress(bytes.NewReader(compressed))
	require.NoError(t, err)
	assert.Equal(t, payload, restored)

	assert.Equal(t, []byte("present"), remote.objects[s.ObjectKey(DefaultKeyPrefix, &entries[1])])
	assert.Contains(t, remote.objects, "memtrace/"+s.Session().String()+"/manifest.json.zst")
}
