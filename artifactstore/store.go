// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifactstore places trace artifacts of a capture session on disk and keeps a
// manifest of them. A session can be uploaded to remote storage afterwards.
//
// Layout:
//
//	<profile dir>/<session>/manifest.json
//	<profile dir>/<session>/<kernel>_<build id>/asm.txt
//	<profile dir>/<session>/<kernel>_<build id>/<exec desc>/memtrace.bin
package artifactstore // import "go.opentelemetry.io/gpu-memtrace/artifactstore"

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"

	"go.opentelemetry.io/gpu-memtrace/kernel"
)

const (
	// ManifestName is the file name of the session manifest.
	ManifestName = "manifest.json"
	// localTempPrefix is prepended to files while they are still being written to.
	localTempPrefix = "tmp."
)

// ErrExists is returned when an artifact path of the session is already taken.
var ErrExists = errors.New("artifact already exists")

// Build identifies one kernel build inside a session. Builds that share a kernel name get
// separate directories.
type Build struct {
	ID       kernel.ID
	Name     string
	Identity string
}

// BuildOf returns the session identity of k.
func BuildOf(k *kernel.Kernel) Build {
	return Build{ID: k.ID, Name: k.Name, Identity: k.ExtendedName()}
}

// Dir returns the directory of the build relative to the session.
func (b Build) Dir() string {
	return kernel.NormalizeFilename(fmt.Sprintf("%s_%d", b.Name, b.ID))
}

// Entry describes one committed artifact.
type Entry struct {
	Kernel    string `json:"kernel"`
	Build     string `json:"build"`
	Identity  string `json:"identity"`
	ExecDesc  string `json:"exec_desc"`
	Path      string `json:"path"`
	ID        ID     `json:"sha256"`
	Size      int64  `json:"size"`
	Threads   int    `json:"threads"`
	Records   int    `json:"records"`
	Truncated bool   `json:"truncated"`
}

// Manifest lists the artifacts of a session.
type Manifest struct {
	Session   uuid.UUID `json:"session"`
	Version   string    `json:"version"`
	Created   time.Time `json:"created"`
	Artifacts []Entry   `json:"artifacts"`
}

// Store is the artifact directory of one capture session. It is safe for concurrent use.
type Store struct {
	dir string

	mu       sync.Mutex
	manifest Manifest
	// claimed holds the paths of artifacts that are being written.
	claimed map[string]struct{}
}

// New creates a new session below profileDir. version is recorded in the manifest.
func New(profileDir, version string) (*Store, error) {
	session := uuid.New()
	dir := filepath.Join(profileDir, session.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{
		dir: dir,
		manifest: Manifest{
			Session: session,
			Version: version,
			Created: time.Now().UTC(),
		},
	}, nil
}

// Open opens an existing session directory by reading its manifest.
func Open(dir string) (*Store, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	s := &Store{dir: dir}
	if err = json.Unmarshal(data, &s.manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest of %s: %w", dir, err)
	}
	return s, nil
}

// Dir returns the session directory.
func (s *Store) Dir() string {
	return s.dir
}

// Session returns the session id.
func (s *Store) Session() uuid.UUID {
	return s.manifest.Session
}

// Entries returns the committed artifacts ordered by path.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.manifest.Artifacts)
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Path returns the absolute path of an artifact.
func (s *Store) Path(e *Entry) string {
	return filepath.Join(s.dir, e.Path)
}

// WriteKernelFile writes an auxiliary file, e.g. the disassembly, into the directory of
// a kernel build.
func (s *Store) WriteKernelFile(b Build, name string, data []byte) error {
	dir := filepath.Join(s.dir, b.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}
	return writeFileAtomic(filepath.Join(dir, name), data)
}

// Create starts writing the artifact name of one dispatch of a kernel build. The artifact
// only becomes visible once the returned Writer is committed. Paths are never reused within
// a session: Create fails with ErrExists for an artifact that was already committed.
func (s *Store) Create(b Build, execDesc, name string) (*Writer, error) {
	rel := filepath.Join(b.Dir(), execDesc, name)
	if err := s.claim(rel); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.dir, b.Dir(), execDesc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.release(rel)
		return nil, fmt.Errorf("could not create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, localTempPrefix+name)
	if err != nil {
		s.release(rel)
		return nil, fmt.Errorf("could not create file in %s: %w", dir, err)
	}
	h := sha256.New()
	return &Writer{
		store: s,
		f:     f,
		h:     h,
		w:     io.MultiWriter(f, h),
		entry: Entry{
			Kernel:   b.Name,
			Build:    b.Dir(),
			Identity: b.Identity,
			ExecDesc: execDesc,
			Path:     rel,
		},
	}, nil
}

func (s *Store) claim(rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.claimed[rel]
	if pending || slices.ContainsFunc(s.manifest.Artifacts,
		func(e Entry) bool { return e.Path == rel }) {
		return fmt.Errorf("%s: %w", rel, ErrExists)
	}
	if s.claimed == nil {
		s.claimed = make(map[string]struct{})
	}
	s.claimed[rel] = struct{}{}
	return nil
}

func (s *Store) release(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, rel)
}

func (s *Store) add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, e.Path)
	s.manifest.Artifacts = append(s.manifest.Artifacts, e)
}

// WriteManifest persists the manifest.
func (s *Store) WriteManifest() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(&s.manifest, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, ManifestName), data)
}

// Verify checks that the content of an artifact matches its recorded id.
func (s *Store) Verify(e *Entry) error {
	f, err := os.Open(s.Path(e))
	if err != nil {
		return err
	}
	defer f.Close()
	id, err := CalculateID(f)
	if err != nil {
		return err
	}
	if id != e.ID {
		return fmt.Errorf("%s: content hash %s does not match %s", e.Path, id, e.ID)
	}
	return nil
}

// Info is the summary of an artifact's content recorded in the manifest.
type Info struct {
	Threads   int
	Records   int
	Truncated bool
}

// Writer writes a single artifact.
type Writer struct {
	store *Store
	f     *os.File
	h     hash.Hash
	w     io.Writer
	n     int64
	entry Entry
	done  bool
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

// Commit makes the artifact visible and records it in the manifest.
func (w *Writer) Commit(info Info) error {
	if w.done {
		return errors.New("artifact already committed or aborted")
	}
	w.done = true
	tmp := w.f.Name()
	defer os.Remove(tmp)

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		w.store.release(w.entry.Path)
		return err
	}
	if err := w.f.Close(); err != nil {
		w.store.release(w.entry.Path)
		return err
	}
	path := filepath.Join(w.store.dir, w.entry.Path)
	if err := os.Rename(tmp, path); err != nil {
		w.store.release(w.entry.Path)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}

	e := w.entry
	copy(e.ID.hash[:], w.h.Sum(nil))
	e.Size = w.n
	e.Threads = info.Threads
	e.Records = info.Records
	e.Truncated = info.Truncated
	w.store.add(e)
	return nil
}

// Abort discards the artifact. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.f.Name())
	w.store.release(w.entry.Path)
}

func writeFileAtomic(path string, data []byte) error {
	out, err := os.CreateTemp(filepath.Dir(path), localTempPrefix+filepath.Base(path))
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())
	defer out.Close()

	if _, err = out.Write(data); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	return os.Rename(out.Name(), path)
}
