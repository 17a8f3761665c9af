// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package learner measures the trace weight of kernels in a first run and provides trace
// buffer capacities derived from these measurements to a second run.
package learner // import "go.opentelemetry.io/gpu-memtrace/learner"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// tableHeader is the first line of a persisted weight table.
const tableHeader = "# memtrace kernel weights v1"

// ErrNoTable is returned when the weight table of the measure phase does not exist.
var ErrNoTable = errors.New("kernel weight table does not exist")

// Observation is the aggregated trace weight of all measured dispatches of one kernel.
type Observation struct {
	// Weight is the largest trace size in bytes observed in a single dispatch.
	Weight uint64
	// Frequency is the number of measured dispatches.
	Frequency uint64
}

// Aggregate folds other into o.
func (o *Observation) Aggregate(other Observation) {
	o.Weight = max(o.Weight, other.Weight)
	o.Frequency += other.Frequency
}

// Table maps extended kernel names to their observations. It is not safe for concurrent
// use.
type Table struct {
	entries map[string]Observation
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Observation)}
}

// Observe records the trace weight of a single dispatch.
func (t *Table) Observe(identity string, weight uint64) {
	t.Add(identity, Observation{Weight: weight, Frequency: 1})
}

// Add aggregates an observation into the entry of identity.
func (t *Table) Add(identity string, obs Observation) {
	cur := t.entries[identity]
	cur.Aggregate(obs)
	t.entries[identity] = cur
}

// Merge aggregates all entries of other into t.
func (t *Table) Merge(other *Table) {
	for id, obs := range other.entries {
		t.Add(id, obs)
	}
}

// Lookup returns the observation of identity.
func (t *Table) Lookup(identity string) (Observation, bool) {
	obs, ok := t.entries[identity]
	return obs, ok
}

// Len returns the number of identities in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// Identities returns all identities in sorted order.
func (t *Table) Identities() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// WriteTo serializes the table, one entry per line.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	c, err := fmt.Fprintln(bw, tableHeader)
	n += int64(c)
	if err != nil {
		return n, err
	}
	for _, id := range t.Identities() {
		obs := t.entries[id]
		c, err = fmt.Fprintf(bw, "%s %d %d\n", strconv.Quote(id), obs.Weight, obs.Frequency)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadTable parses a serialized table.
func ReadTable(r io.Reader) (*Table, error) {
	t := NewTable()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, rest, err := splitQuoted(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected weight and frequency, got '%s'",
				lineNo, rest)
		}
		weight, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid weight: %w", lineNo, err)
		}
		freq, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid frequency: %w", lineNo, err)
		}
		t.Add(identity, Observation{Weight: weight, Frequency: freq})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func splitQuoted(line string) (quoted, rest string, err error) {
	prefix, err := strconv.QuotedPrefix(line)
	if err != nil {
		return "", "", fmt.Errorf("invalid identity: %w", err)
	}
	quoted, err = strconv.Unquote(prefix)
	if err != nil {
		return "", "", fmt.Errorf("invalid identity: %w", err)
	}
	return quoted, line[len(prefix):], nil
}

// LoadTable reads the table persisted at path. A missing file yields ErrNoTable.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoTable)
		}
		return nil, err
	}
	defer f.Close()
	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

// Save merges the table into the one persisted at path and writes the result back.
// Concurrent savers are serialized with an advisory lock next to the file, so no process
// loses the observations of another.
func (t *Table) Save(path string) error {
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	merged := NewTable()
	existing, err := LoadTable(path)
	switch {
	case err == nil:
		merged.Merge(existing)
	case errors.Is(err, ErrNoTable):
	default:
		return err
	}
	merged.Merge(t)

	return writeFileAtomic(path, merged)
}

func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// writeFileAtomic writes to a temporary file first, so that readers never observe a
// partially written table.
func writeFileAtomic(path string, w io.WriterTo) error {
	out, err := os.CreateTemp(filepath.Dir(path), "tmp."+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(out.Name())
	defer out.Close()

	if _, err = w.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out.Name(), err)
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = os.Rename(out.Name(), path); err != nil {
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}
