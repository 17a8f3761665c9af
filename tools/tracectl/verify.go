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
)

type verifyCmd struct {
	out     io.Writer
	session string
}

func newVerifyCmd(out io.Writer) *ffcli.Command {
	cmd := verifyCmd{out: out}
	set := flag.NewFlagSet("verify", flag.ExitOnError)
	set.StringVar(&cmd.session, "session", "", "The session directory to verify")
	return &ffcli.Command{
		Name:       "verify",
		ShortUsage: "verify -session <dir>",
		ShortHelp:  "Check that artifacts match the hashes of the session manifest",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *verifyCmd) exec(context.Context, []string) error {
	if cmd.session == "" {
		return errors.New("please pass `-session`")
	}
	store, err := artifactstore.Open(cmd.session)
	if err != nil {
		return err
	}
	failed := 0
	entries := store.Entries()
	for _, e := range entries {
		if err := store.Verify(&e); err != nil {
			log.Errorf("%v", err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.out, "%s %s\n", e.ID, e.Path)
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d artifacts failed verification", failed, len(entries))
	}
	return nil
}
