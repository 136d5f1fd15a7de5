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

// Package hadoop is a store driver for HDFS that drives the hadoop command
// line.
package hadoop

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/awslabs/docker-to-squash/internal/command"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

const (
	symlinkToolJarGlob = "share/hadoop/tools/lib/hadoop-extras-*.jar"
	symlinkToolClass   = "org.apache.hadoop.tools.SymlinkTool"
)

// Driver implements store.Driver on HDFS.
//
// `hadoop fs -test -e` cannot tell a missing path from an unreachable cluster:
// any non-zero exit is reported as "does not exist".
type Driver struct {
	hadoop string
	prefix string
	runner command.Runner
}

var _ store.Driver = &Driver{}

type Option func(*Driver)

// WithRunner replaces the command runner.
func WithRunner(r command.Runner) Option {
	return func(d *Driver) {
		d.runner = r
	}
}

// New returns a driver that runs the hadoop executable. prefix is the hadoop
// installation directory holding the SymlinkTool jar.
func New(hadoop, prefix string, opts ...Option) *Driver {
	d := &Driver{
		hadoop: hadoop,
		prefix: prefix,
		runner: &command.Exec{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) fs(ctx context.Context, args ...string) ([]byte, error) {
	return d.runner.Run(ctx, d.hadoop, append([]string{"fs"}, args...)...)
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.fs(ctx, "-test", "-e", p)
	if err == nil {
		return true, nil
	}
	if command.ExitCode(err) > 0 {
		return false, nil
	}
	return false, err
}

func (d *Driver) List(ctx context.Context, dir string) ([]string, error) {
	out, err := d.fs(ctx, "-ls", "-C", dir)
	if err != nil {
		return nil, err
	}
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, path.Base(line))
		}
	}
	return names, sc.Err()
}

func (d *Driver) Read(ctx context.Context, p string) ([]byte, error) {
	exists, err := d.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", p, errdefs.ErrNotFound)
	}
	return d.fs(ctx, "-cat", p)
}

func (d *Driver) Get(ctx context.Context, p, localPath string) error {
	_, err := d.fs(ctx, "-get", p, localPath)
	return err
}

func (d *Driver) Put(ctx context.Context, localPath, p string, overwrite bool) error {
	args := []string{"-put"}
	if overwrite {
		args = append(args, "-f")
	}
	_, err := d.fs(ctx, append(args, localPath, p)...)
	return err
}

func (d *Driver) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	args := []string{"-cp"}
	if overwrite {
		args = append(args, "-f")
	}
	_, err := d.fs(ctx, append(args, src, dst)...)
	return err
}

func (d *Driver) Remove(ctx context.Context, p string) error {
	_, err := d.fs(ctx, "-rm", p)
	return err
}

func (d *Driver) Mkdir(ctx context.Context, dir string) error {
	_, err := d.fs(ctx, "-mkdir", "-p", dir)
	return err
}

// RenameReplace uses the SymlinkTool mvlink command, which replaces dst in a
// single namenode operation.
func (d *Driver) RenameReplace(ctx context.Context, src, dst string) error {
	jar, err := d.symlinkToolJar()
	if err != nil {
		return err
	}
	log.G(ctx).WithField("jar", jar).Debug("using SymlinkTool")
	_, err = d.runner.Run(ctx, d.hadoop, "jar", jar, symlinkToolClass, "mvlink", "-f", src, dst)
	return err
}

func (d *Driver) symlinkToolJar() (string, error) {
	if d.prefix == "" {
		return "", fmt.Errorf("hadoop prefix is not set, cannot locate SymlinkTool: %w", errdefs.ErrFailedPrecondition)
	}
	pattern := filepath.Join(d.prefix, symlinkToolJarGlob)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("SymlinkTool jar %s: %w", pattern, errdefs.ErrNotFound)
	}
	return matches[len(matches)-1], nil
}

func (d *Driver) SetReplication(ctx context.Context, p string, replication int) error {
	_, err := d.fs(ctx, "-setrep", strconv.Itoa(replication), p)
	return err
}

func (d *Driver) SetPermissions(ctx context.Context, p string, mode os.FileMode) error {
	_, err := d.fs(ctx, "-chmod", strconv.FormatUint(uint64(mode.Perm()), 8), p)
	return err
}
