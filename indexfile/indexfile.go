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

// Package indexfile loads the tag index from a store and publishes it back.
//
// A publish never exposes a partially written index: the new index is
// uploaded next to the canonical one as <name>.tmp and then moved over it
// with the driver's atomic RenameReplace. Readers see either the old or the
// new index. Without CheckPrevious concurrent writers are last-writer-wins.
package indexfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// ErrConcurrentUpdate is returned by Publish with CheckPrevious set when the
// remote index changed after it was loaded.
var ErrConcurrentUpdate = errors.New("index was changed by another writer")

const tmpSuffix = ".tmp"

// Remote is the index file of one store.
type Remote struct {
	Driver store.Driver
	// Dir is the store root holding the index.
	Dir string
	// Name is the index file name.
	Name        string
	Replication int
	// CheckPrevious makes Publish verify, just before the rename, that the
	// canonical index still has the hash it was loaded with.
	CheckPrevious bool
}

// Path returns the location of the canonical index.
func (r *Remote) Path() string {
	return path.Join(r.Dir, r.Name)
}

func (r *Remote) tmpPath() string {
	return r.Path() + tmpSuffix
}

// Load downloads the index to localPath and parses it. It also returns the
// hash of the downloaded file, which Publish uses to detect an unchanged
// index. A store without an index yields an empty index and an empty hash.
func (r *Remote) Load(ctx context.Context, localPath string) (*tagindex.Index, string, error) {
	remote := r.Path()
	exists, err := r.Driver.Exists(ctx, remote)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check for index %s: %w", remote, err)
	}
	if !exists {
		log.G(ctx).WithField("index", remote).Info("index does not exist yet, starting with an empty index")
		return tagindex.New(), "", nil
	}
	if err := r.Driver.Get(ctx, remote, localPath); err != nil {
		return nil, "", fmt.Errorf("failed to download index %s: %w", remote, err)
	}
	hash, err := hashutil.FileHash(localPath)
	if err != nil {
		return nil, "", err
	}
	idx, warnings, err := tagindex.ParseFile(ctx, localPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read index %s: %w", remote, err)
	}
	log.G(ctx).WithField("index", remote).
		WithField("hash", hash).
		WithField("images", idx.Len()).
		WithField("warnings", len(warnings)).
		Debug("loaded index")
	return idx, hash, nil
}

// Publish writes idx to localPath and, unless it is identical to the index
// that was loaded with prevHash, replaces the remote index with it. It
// reports whether the remote index was replaced. On failure before the rename
// the remote index is left untouched and the temporary upload is removed.
func (r *Remote) Publish(ctx context.Context, idx *tagindex.Index, localPath, prevHash string) (bool, error) {
	if err := os.WriteFile(localPath, idx.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("failed to write index: %w", err)
	}
	hash, err := hashutil.FileHash(localPath)
	if err != nil {
		return false, err
	}
	if hash == prevHash {
		log.G(ctx).WithField("index", r.Path()).Info("index unchanged, not uploading")
		return false, nil
	}

	canonical, tmp := r.Path(), r.tmpPath()
	if err := r.upload(ctx, localPath, tmp); err != nil {
		r.cleanup(ctx, tmp)
		return false, err
	}
	if r.CheckPrevious {
		if err := r.checkUnchanged(ctx, prevHash); err != nil {
			r.cleanup(ctx, tmp)
			return false, err
		}
	}
	if err := r.Driver.RenameReplace(ctx, tmp, canonical); err != nil {
		r.cleanup(ctx, tmp)
		return false, fmt.Errorf("failed to move %s to %s: %w", tmp, canonical, err)
	}
	if err := r.Driver.SetReplication(ctx, canonical, r.Replication); err != nil {
		return true, fmt.Errorf("failed to set replication of %s: %w", canonical, err)
	}
	if err := r.Driver.SetPermissions(ctx, canonical, store.ReadOnlyMode); err != nil {
		return true, fmt.Errorf("failed to set permissions of %s: %w", canonical, err)
	}
	log.G(ctx).WithField("index", canonical).WithField("hash", hash).Info("published index")
	return true, nil
}

func (r *Remote) upload(ctx context.Context, localPath, tmp string) error {
	stale, err := r.Driver.Exists(ctx, tmp)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", tmp, err)
	}
	if stale {
		log.G(ctx).WithField("path", tmp).Warn("removing stale temporary index")
		if err := r.Driver.Remove(ctx, tmp); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", tmp, err)
		}
	}
	if err := r.Driver.Put(ctx, localPath, tmp, false); err != nil {
		return fmt.Errorf("failed to upload index to %s: %w", tmp, err)
	}
	return nil
}

func (r *Remote) checkUnchanged(ctx context.Context, prevHash string) error {
	current := ""
	b, err := r.Driver.Read(ctx, r.Path())
	switch {
	case err == nil:
		current = hashutil.BytesHash(b)
	case errdefs.IsNotFound(err):
	default:
		return fmt.Errorf("failed to read %s: %w", r.Path(), err)
	}
	if current != prevHash {
		return fmt.Errorf("%s: loaded with hash %q, now %q: %w", r.Path(), prevHash, current, ErrConcurrentUpdate)
	}
	return nil
}

func (r *Remote) cleanup(ctx context.Context, tmp string) {
	exists, err := r.Driver.Exists(ctx, tmp)
	if err != nil || !exists {
		return
	}
	if err := r.Driver.Remove(ctx, tmp); err != nil {
		log.G(ctx).WithError(err).WithField("path", tmp).Warn("failed to remove temporary index")
	}
}
