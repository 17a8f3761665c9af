// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package bankconflict measures shared local memory bank conflicts of scattered SLM
// messages from decoded trace artifacts.
//
// The bank of an address is (address / 4) % banks. For every distinct lane address pattern
// of an instruction the conflict degree is the largest number of lanes hitting the same
// bank, or 0 if all lanes hit different banks. Patterns where all lanes read the same
// address are broadcasts and never conflict, they are ignored.
package bankconflict // import "go.opentelemetry.io/gpu-memtrace/bankconflict"

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"go.opentelemetry.io/gpu-memtrace/decoder"
	npsr "go.opentelemetry.io/gpu-memtrace/nopanicslicereader"
	"go.opentelemetry.io/gpu-memtrace/record"
)

// bankWidth is the number of bytes served by one bank.
const bankWidth = 4

// Share is the fraction of an instruction's patterns with a given conflict degree.
type Share struct {
	Degree  int
	Percent float64
}

// Result holds the conflict statistics of one instruction.
type Result struct {
	// Offset is the program offset of the instruction.
	Offset uint32
	// Patterns is the number of distinct non-broadcast address patterns.
	Patterns int
	// Shares is ordered by degree.
	Shares []Share
}

// Conflicting returns true if at least one pattern conflicts.
func (r *Result) Conflicting() bool {
	for _, s := range r.Shares {
		if s.Degree > 0 {
			return true
		}
	}
	return false
}

type instructionStats struct {
	seen    map[string]struct{}
	degrees map[int]int
}

// Analyzer accumulates patterns of any number of artifacts.
type Analyzer struct {
	banks uint32
	stats map[uint32]*instructionStats
	addrs []uint64
}

// New creates an analyzer for a memory with the given number of banks.
func New(banks uint32) (*Analyzer, error) {
	if banks == 0 {
		return nil, errors.New("number of banks must be positive")
	}
	return &Analyzer{banks: banks, stats: make(map[uint32]*instructionStats)}, nil
}

// Add accumulates the patterns of an artifact.
func (a *Analyzer) Add(art *decoder.Artifact) error {
	for _, tt := range art.Threads {
		for ri, rec := range tt.Records {
			region, ok := art.Region(rec.RegionID)
			if !ok {
				return fmt.Errorf("record %d: region %d: %w", ri, rec.RegionID,
					decoder.ErrUnknownRegion)
			}
			payload := rec.Payload
			for i := range region.Instructions {
				desc := &region.Instructions[i]
				n := int(desc.AddrPayloadLength) * int(art.GRFRegSize)
				if n > len(payload) {
					return fmt.Errorf("record %d of region %d: short payload", ri, rec.RegionID)
				}
				a.addInstruction(desc, rec.ExecMask, payload[:n], art.GRFRegSize)
				payload = payload[n:]
			}
		}
	}
	return nil
}

func (a *Analyzer) addInstruction(desc *record.InstructionDescriptor, execMask uint32,
	payload []byte, grfRegSize uint32) {
	if !desc.IsSLM || !desc.IsScatter || desc.IsEOT {
		return
	}
	addrSize := 4
	if desc.AddressWidth == 64 {
		addrSize = 8
	}
	lanes := int(desc.SIMDWidth)
	addrRegs := (lanes*addrSize + int(grfRegSize) - 1) / int(grfRegSize)
	// A message header, if present, precedes the addresses.
	skip := len(payload) - addrRegs*int(grfRegSize)
	if skip < 0 || lanes*addrSize > len(payload)-skip {
		return
	}
	addrs := payload[skip:]

	a.addrs = a.addrs[:0]
	for lane := 0; lane < lanes; lane++ {
		bit := int(desc.ChannelOffset) + lane
		if bit >= 32 || execMask&(1<<bit) == 0 {
			continue
		}
		a.addrs = append(a.addrs, npsr.Address(addrs, uint64(lane*addrSize), desc.AddressWidth))
	}
	if len(a.addrs) == 0 || isBroadcast(a.addrs) {
		return
	}

	st, ok := a.stats[desc.Offset]
	if !ok {
		st = &instructionStats{
			seen:    make(map[string]struct{}),
			degrees: make(map[int]int),
		}
		a.stats[desc.Offset] = st
	}
	key := patternKey(a.addrs)
	if _, ok := st.seen[key]; ok {
		return
	}
	st.seen[key] = struct{}{}
	st.degrees[a.degree(a.addrs)]++
}

func isBroadcast(addrs []uint64) bool {
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return false
		}
	}
	return true
}

func patternKey(addrs []uint64) string {
	b := make([]byte, 0, 8*len(addrs))
	for _, addr := range addrs {
		b = binary.LittleEndian.AppendUint64(b, addr)
	}
	return string(b)
}

// degree returns the largest number of lanes sharing a bank, 0 if no bank is shared.
func (a *Analyzer) degree(addrs []uint64) int {
	perBank := make(map[uint64]int, len(addrs))
	worst := 0
	for _, addr := range addrs {
		bank := (addr / bankWidth) % uint64(a.banks)
		perBank[bank]++
		worst = max(worst, perBank[bank])
	}
	if worst == 1 {
		return 0
	}
	return worst
}

// Results returns the statistics of all instructions ordered by offset.
func (a *Analyzer) Results() []Result {
	out := make([]Result, 0, len(a.stats))
	for offset, st := range a.stats {
		r := Result{Offset: offset, Patterns: len(st.seen)}
		for degree, n := range st.degrees {
			r.Shares = append(r.Shares, Share{
				Degree:  degree,
				Percent: float64(n) * 100 / float64(len(st.seen)),
			})
		}
		slices.SortFunc(r.Shares, func(x, y Share) int { return cmp.Compare(x.Degree, y.Degree) })
		out = append(out, r)
	}
	slices.SortFunc(out, func(x, y Result) int { return cmp.Compare(x.Offset, y.Offset) })
	return out
}

// Analyze runs the analysis over a set of artifacts of the same kernel.
func Analyze(artifacts []*decoder.Artifact, banks uint32) ([]Result, error) {
	a, err := New(banks)
	if err != nil {
		return nil, err
	}
	for _, art := range artifacts {
		if err = a.Add(art); err != nil {
			return nil, err
		}
	}
	return a.Results(), nil
}

// Report writes the results as a table.
func Report(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tPATTERNS\tDEGREE\tPERCENT")
	for _, r := range results {
		for _, s := range r.Shares {
			degree := "none"
			if s.Degree > 0 {
				degree = fmt.Sprintf("%d-way", s.Degree)
			}
			fmt.Fprintf(tw, "0x%04x\t%d\t%s\t%.4f\n", r.Offset, r.Patterns, degree, s.Percent)
		}
	}
	return tw.Flush()
}
