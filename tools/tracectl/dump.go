// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"

	"go.opentelemetry.io/gpu-memtrace/decoder"
)

type dumpCmd struct {
	out io.Writer

	// User-specified command line arguments.
	path    string
	records bool
	lanes   int
}

func newDumpCmd(out io.Writer) *ffcli.Command {
	cmd := dumpCmd{out: out}
	set := flag.NewFlagSet("dump", flag.ExitOnError)
	set.StringVar(&cmd.path, "path", "", "The path of the artifact to dump")
	set.BoolVar(&cmd.records, "records", false, "Print every record")
	set.IntVar(&cmd.lanes, "lanes", 4, "Number of payload dwords printed per record")
	return &ffcli.Command{
		Name:       "dump",
		ShortUsage: "dump -path <artifact> [flags]",
		ShortHelp:  "Print the content of a trace artifact",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *dumpCmd) exec(context.Context, []string) error {
	if cmd.path == "" {
		return errors.New("please pass `-path`")
	}
	art, err := readArtifact(cmd.path)
	if err != nil {
		return err
	}
	return cmd.dump(art)
}

func (cmd *dumpCmd) dump(art *decoder.Artifact) error {
	w := cmd.out
	fmt.Fprintf(w, "version %d, register size %d, header size %d\n", art.Version,
		art.GRFRegSize, art.AlignedHeaderSize)
	for _, r := range art.Regions {
		fmt.Fprintf(w, "region %d:\n", r.ID)
		for _, d := range r.Instructions {
			kind := "read"
			if d.IsWrite {
				kind = "write"
			}
			if d.IsEOT {
				kind = "eot"
			}
			fmt.Fprintf(w, "  0x%04x %-5s simd%d payload %d\n", d.Offset, kind, d.SIMDWidth,
				d.AddrPayloadLength)
		}
	}
	fmt.Fprintf(w, "%d threads, %d records\n", len(art.Threads), art.NumRecords())
	if !cmd.records {
		return nil
	}
	for _, tt := range art.Threads {
		fmt.Fprintf(w, "thread %s:\n", tt.Location)
		for _, r := range tt.Records {
			fmt.Fprintf(w, "  region %d mask 0x%04x", r.RegionID, r.ExecMask)
			for i := 0; i < cmd.lanes && 4*i+4 <= len(r.Payload); i++ {
				fmt.Fprintf(w, " %#x", binary.LittleEndian.Uint32(r.Payload[4*i:]))
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
