// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/gpu-memtrace/artifactstore"
)

type uploadCmd struct {
	// User-specified command line arguments.
	session     string
	bucket      string
	region      string
	prefix      string
	parallelism int
}

func newUploadCmd() *ffcli.Command {
	cmd := uploadCmd{}
	set := flag.NewFlagSet("upload", flag.ExitOnError)
	set.StringVar(&cmd.session, "session", "", "The session directory to upload")
	set.StringVar(&cmd.bucket, "bucket", "", "The S3 bucket to upload to")
	set.StringVar(&cmd.region, "region", "", "The AWS region of the bucket")
	set.StringVar(&cmd.prefix, "prefix", artifactstore.DefaultKeyPrefix, "Key prefix of uploaded objects")
	set.IntVar(&cmd.parallelism, "parallelism", 8, "Number of concurrent uploads")
	return &ffcli.Command{
		Name:       "upload",
		ShortUsage: "upload -session <dir> -bucket <bucket> [flags]",
		ShortHelp:  "Upload the artifacts of a session to remote storage",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *uploadCmd) exec(ctx context.Context, _ []string) error {
	if cmd.session == "" || cmd.bucket == "" {
		return errors.New("please pass `-session` and `-bucket`")
	}
	store, err := artifactstore.Open(cmd.session)
	if err != nil {
		return err
	}
	remote, err := artifactstore.NewS3Remote(ctx, cmd.bucket, cmd.region)
	if err != nil {
		return fmt.Errorf("failed to set up remote storage: %w", err)
	}
	n, err := store.Upload(ctx, remote, cmd.prefix, cmd.parallelism)
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	log.Infof("Uploaded %d artifacts, all artifacts are present remotely", n)
	return nil
}
