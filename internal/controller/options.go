// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/gpu-memtrace/internal/controller"

import (
	"go.opentelemetry.io/gpu-memtrace/artifactstore"
	"go.opentelemetry.io/gpu-memtrace/gpusim"
)

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithRemote sets the remote artifact storage uploads go to.
// This defaults to an S3 bucket if Config.UploadBucket is set.
func WithRemote(remote artifactstore.Remote) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.remote = remote
		return c
	})
}

// WithDevice sets the device the workload runs on.
func WithDevice(dev *gpusim.Device) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.device = dev
		return c
	})
}
