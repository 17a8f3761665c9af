// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// tracectl inspects, analyzes and uploads the trace artifacts of a capture session.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/decoder"
)

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	root := newRootCmd(os.Stdout)
	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Fatalf("%v", err)
		}
	}
}

func newRootCmd(out io.Writer) *ffcli.Command {
	return &ffcli.Command{
		Name:       "tracectl",
		ShortUsage: "tracectl <subcommand> [flags]",
		ShortHelp:  "Tool for inspecting and sharing memory trace artifacts",
		Subcommands: []*ffcli.Command{
			newConflictsCmd(out),
			newDumpCmd(out),
			newUploadCmd(),
			newVerifyCmd(out),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

// readArtifact parses an artifact file. Files downloaded from remote storage still carry
// their transport compression and are decompressed first.
func readArtifact(path string) (*decoder.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		data, err := artifactstore.Decompress(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		r = bytes.NewReader(data)
	}
	art, err := decoder.ReadArtifact(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return art, nil
}

// sessionEntries returns the artifacts of a session, optionally only those of one kernel.
func sessionEntries(store *artifactstore.Store, kernelName string) []artifactstore.Entry {
	var out []artifactstore.Entry
	for _, e := range store.Entries() {
		if kernelName == "" || e.Kernel == kernelName {
			out = append(out, e)
		}
	}
	return out
}
