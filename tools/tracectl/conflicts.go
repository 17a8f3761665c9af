// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/bankconflict"
)

// defaultBanks is the number of SLM banks of the supported generations.
const defaultBanks = 16

type conflictsCmd struct {
	out io.Writer

	session string
	kernel  string
	banks   uint
}

func newConflictsCmd(out io.Writer) *ffcli.Command {
	cmd := conflictsCmd{out: out}
	set := flag.NewFlagSet("conflicts", flag.ExitOnError)
	set.StringVar(&cmd.session, "session", "", "The session directory to analyze")
	set.StringVar(&cmd.kernel, "kernel", "", "Only analyze artifacts of this kernel")
	set.UintVar(&cmd.banks, "banks", defaultBanks, "Number of shared local memory banks")
	return &ffcli.Command{
		Name:       "conflicts",
		ShortUsage: "conflicts -session <dir> [flags]",
		ShortHelp:  "Report shared local memory bank conflicts per instruction",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *conflictsCmd) exec(context.Context, []string) error {
	if cmd.session == "" {
		return errors.New("please pass `-session`")
	}
	store, err := artifactstore.Open(cmd.session)
	if err != nil {
		return err
	}

	// Instruction offsets are only comparable within one kernel build.
	byBuild := make(map[string]*bankconflict.Analyzer)
	var builds []artifactstore.Entry
	for _, e := range sessionEntries(store, cmd.kernel) {
		a, ok := byBuild[e.Build]
		if !ok {
			if a, err = bankconflict.New(uint32(cmd.banks)); err != nil {
				return err
			}
			byBuild[e.Build] = a
			builds = append(builds, e)
		}
		art, err := readArtifact(store.Path(&e))
		if err != nil {
			return err
		}
		if err = a.Add(art); err != nil {
			return fmt.Errorf("%s: %w", e.Path, err)
		}
		log.Debugf("Analyzed %s", e.Path)
	}
	if len(builds) == 0 {
		return errors.New("no artifacts found")
	}

	for _, b := range builds {
		fmt.Fprintf(cmd.out, "kernel %s (%s):\n", b.Kernel, b.Build)
		if err = bankconflict.Report(cmd.out, byBuild[b.Build].Results()); err != nil {
			return err
		}
	}
	return nil
}
