// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package artifactstore // import "go.opentelemetry.io/gpu-memtrace/artifactstore"

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/sha256-simd"
)

// ID is the SHA-256 sum of an artifact's content.
type ID struct {
	hash [32]byte
}

// String implements the `fmt.Stringer` interface
func (id ID) String() string {
	return hex.EncodeToString(id.hash[:])
}

// IDFromString parses a string into an ID.
func IDFromString(s string) (ID, error) {
	if len(s) != 64 {
		return ID{}, fmt.Errorf("length %d doesn't match expected value (64)", len(s))
	}
	slice, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("failed to parse id: %w", err)
	}
	var id ID
	copy(id.hash[:], slice)
	return id, nil
}

// MarshalJSON encodes the ID into JSON.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes JSON into an ID.
func (id *ID) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := IDFromString(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CalculateID hashes all data of reader.
func CalculateID(reader io.Reader) (ID, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return ID{}, fmt.Errorf("failed to hash content: %w", err)
	}
	var id ID
	copy(id.hash[:], hasher.Sum(nil))
	return id, nil
}
