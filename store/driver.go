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

package store

import (
	"context"
	"os"
)

// Driver is the set of primitive operations on the remote file system that
// holds a store. Paths are slash separated and absolute within that file
// system. Implementations must be safe for concurrent use.
type Driver interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the base names of the entries of dir.
	List(ctx context.Context, dir string) ([]string, error)
	// Read returns the content of path. A missing path is reported with
	// errdefs.ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)
	// Get downloads path to localPath, which must not exist.
	Get(ctx context.Context, path, localPath string) error
	// Put uploads localPath to path. Unless overwrite is set an existing
	// path is an error.
	Put(ctx context.Context, localPath, path string, overwrite bool) error
	// Copy copies src to dst within the remote file system.
	Copy(ctx context.Context, src, dst string, overwrite bool) error
	// Remove deletes path.
	Remove(ctx context.Context, path string) error
	// Mkdir creates dir and any missing parents.
	Mkdir(ctx context.Context, dir string) error
	// RenameReplace moves src to dst, replacing dst, as one atomic step for
	// readers of dst.
	RenameReplace(ctx context.Context, src, dst string) error
	// SetReplication sets the replication factor of path, where the file
	// system has one.
	SetReplication(ctx context.Context, path string, replication int) error
	// SetPermissions sets the permission bits of path.
	SetPermissions(ctx context.Context, path string, mode os.FileMode) error
}
