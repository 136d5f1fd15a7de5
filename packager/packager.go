/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package packager turns an expanded layer tree into a squashfs image.
package packager

import (
	"context"
	"fmt"
	"os"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/internal/command"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Packager packs the directory tree at dir into the file out.
type Packager interface {
	Pack(ctx context.Context, dir, out string) error
}

// Mksquashfs packs with the mksquashfs tool.
type Mksquashfs struct {
	path   string
	args   []string
	runner command.Runner
}

var _ Packager = &Mksquashfs{}

type Option func(*Mksquashfs)

// WithRunner replaces the runner used to start mksquashfs.
func WithRunner(r command.Runner) Option {
	return func(m *Mksquashfs) {
		m.runner = r
	}
}

// NewMksquashfs returns a Packager running the configured mksquashfs.
func NewMksquashfs(cfg config.PackagerConfig, opts ...Option) *Mksquashfs {
	m := &Mksquashfs{
		path:   cfg.MksquashfsPath,
		args:   cfg.Args,
		runner: &command.Exec{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Pack implements Packager. out must not exist; mksquashfs would otherwise
// append to it.
func (m *Mksquashfs) Pack(ctx context.Context, dir, out string) error {
	if _, err := os.Lstat(out); err == nil {
		return fmt.Errorf("squashfs output %s: %w", out, errdefs.ErrAlreadyExists)
	}
	args := append([]string{dir, out}, m.args...)
	if _, err := m.runner.Run(ctx, m.path, args...); err != nil {
		os.Remove(out)
		return fmt.Errorf("failed to pack %s: %w", dir, err)
	}
	log.G(ctx).WithField("dir", dir).WithField("out", out).Debug("packed layer")
	return nil
}
