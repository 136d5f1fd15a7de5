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

// Package local is a store driver for a directory tree on a local or shared
// POSIX file system.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awslabs/docker-to-squash/store"
	"github.com/containerd/continuity/fs"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Driver implements store.Driver with plain file system calls. Uploads are
// copied to a temporary sibling and renamed into place, so readers never see
// a partial object.
type Driver struct{}

var _ store.Driver = &Driver{}

// New returns a local driver.
func New() *Driver {
	return &Driver{}
}

func notFound(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
	}
	return err
}

func (d *Driver) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Lstat(filepath.FromSlash(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *Driver) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.FromSlash(dir))
	if err != nil {
		return nil, notFound(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (d *Driver) Read(_ context.Context, p string) ([]byte, error) {
	b, err := os.ReadFile(filepath.FromSlash(p))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (d *Driver) Get(_ context.Context, p, localPath string) error {
	if _, err := os.Lstat(localPath); err == nil {
		return fmt.Errorf("%s: %w", localPath, errdefs.ErrAlreadyExists)
	}
	src := filepath.FromSlash(p)
	if _, err := os.Stat(src); err != nil {
		return notFound(err)
	}
	if err := fs.CopyFile(localPath, src); err != nil {
		os.Remove(localPath)
		return err
	}
	return nil
}

func (d *Driver) Put(ctx context.Context, localPath, p string, overwrite bool) error {
	return d.install(ctx, localPath, filepath.FromSlash(p), overwrite)
}

func (d *Driver) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	return d.install(ctx, filepath.FromSlash(src), filepath.FromSlash(dst), overwrite)
}

// install copies source next to target and renames the copy over target.
func (d *Driver) install(ctx context.Context, source, target string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Lstat(target); err == nil {
			return fmt.Errorf("%s: %w", target, errdefs.ErrAlreadyExists)
		}
	}
	if _, err := os.Stat(source); err != nil {
		return notFound(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	tmp.Close()
	if err := fs.CopyFile(tmpName, source); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	log.G(ctx).WithField("source", source).WithField("target", target).Debug("installed file")
	return nil
}

func (d *Driver) Remove(_ context.Context, p string) error {
	return notFound(os.Remove(filepath.FromSlash(p)))
}

func (d *Driver) Mkdir(_ context.Context, dir string) error {
	return os.MkdirAll(filepath.FromSlash(dir), 0o755)
}

// RenameReplace is rename(2), which replaces dst atomically.
func (d *Driver) RenameReplace(_ context.Context, src, dst string) error {
	return notFound(os.Rename(filepath.FromSlash(src), filepath.FromSlash(dst)))
}

// SetReplication does nothing; local file systems have no replication factor.
func (d *Driver) SetReplication(ctx context.Context, p string, replication int) error {
	log.G(ctx).WithField("path", p).WithField("replication", replication).Debug("replication not supported by local store, ignoring")
	return nil
}

func (d *Driver) SetPermissions(_ context.Context, p string, mode os.FileMode) error {
	return notFound(os.Chmod(filepath.FromSlash(p), mode))
}
