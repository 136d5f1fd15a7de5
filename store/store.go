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

// Package store keeps image content in a remote directory tree:
//
//	<root>/manifests/<hash>
//	<root>/config/<hash>
//	<root>/layers/<hash>.sqsh
//
// Objects are written once and then made read-only. Only the garbage collector
// removes them.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/containerd/log"
)

// Class is a kind of content, named after its directory under the root.
type Class string

const (
	ManifestClass Class = "manifests"
	ConfigClass   Class = "config"
	LayerClass    Class = "layers"
)

// LayerSuffix is appended to layer hashes to form their object names.
const LayerSuffix = ".sqsh"

// ReadOnlyMode is applied to every object once it is uploaded.
const ReadOnlyMode = 0o444

const dirMode = 0o755

// Classes lists every content class.
func Classes() []Class {
	return []Class{ManifestClass, ConfigClass, LayerClass}
}

// ContentStore is a content-addressed image store under one root.
type ContentStore struct {
	driver              Driver
	root                string
	replication         int
	tolerateUnreachable bool
}

type Option func(*ContentStore)

// WithReplication sets the replication factor applied to uploaded objects.
func WithReplication(replication int) Option {
	return func(s *ContentStore) {
		s.replication = replication
	}
}

// WithTolerateUnreachable makes Exists report a failed check as a missing
// object instead of an error.
func WithTolerateUnreachable(tolerate bool) Option {
	return func(s *ContentStore) {
		s.tolerateUnreachable = tolerate
	}
}

// New returns a ContentStore for root on driver.
func New(driver Driver, root string, opts ...Option) *ContentStore {
	s := &ContentStore{
		driver:      driver,
		root:        path.Clean(root),
		replication: 1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the store root.
func (s *ContentStore) Root() string {
	return s.root
}

// Driver returns the driver the store is on.
func (s *ContentStore) Driver() Driver {
	return s.driver
}

// Replication returns the replication factor applied to uploads.
func (s *ContentStore) Replication() int {
	return s.replication
}

// Path returns the location of the object of class with the given hash.
func (s *ContentStore) Path(class Class, hash string) string {
	name := strings.ToLower(hash)
	if class == LayerClass {
		name += LayerSuffix
	}
	return path.Join(s.root, string(class), name)
}

// Setup creates the root and the class directories when they are missing.
func (s *ContentStore) Setup(ctx context.Context) error {
	dirs := []string{s.root}
	for _, c := range Classes() {
		dirs = append(dirs, path.Join(s.root, string(c)))
	}
	for _, dir := range dirs {
		exists, err := s.driver.Exists(ctx, dir)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", dir, err)
		}
		if exists {
			continue
		}
		if err := s.driver.Mkdir(ctx, dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := s.driver.SetPermissions(ctx, dir, dirMode); err != nil {
			return fmt.Errorf("failed to set permissions of %s: %w", dir, err)
		}
		log.G(ctx).WithField("dir", dir).Info("created store directory")
	}
	return nil
}

// Exists reports whether the object exists.
func (s *ContentStore) Exists(ctx context.Context, class Class, hash string) (bool, error) {
	p := s.Path(class, hash)
	exists, err := s.driver.Exists(ctx, p)
	if err != nil {
		if s.tolerateUnreachable {
			log.G(ctx).WithError(err).WithField("path", p).Warn("existence check failed, assuming the object is missing")
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", p, err)
	}
	return exists, nil
}

// Put uploads localPath as the object of class with the given hash. When the
// object already exists and overwrite is false nothing is uploaded and
// uploaded is false. A new object gets the store's replication and is made
// read-only.
func (s *ContentStore) Put(ctx context.Context, class Class, hash, localPath string, overwrite bool) (uploaded bool, err error) {
	p := s.Path(class, hash)
	exists, err := s.Exists(ctx, class, hash)
	if err != nil {
		return false, err
	}
	if exists {
		if !overwrite {
			log.G(ctx).WithField("path", p).Info("object already exists, not uploading")
			return false, nil
		}
		log.G(ctx).WithField("path", p).Info("object already exists, overwriting")
	}
	if err := s.driver.Put(ctx, localPath, p, overwrite); err != nil {
		return false, fmt.Errorf("failed to upload %s to %s: %w", localPath, p, err)
	}
	if err := s.finalize(ctx, p); err != nil {
		return true, err
	}
	log.G(ctx).WithField("path", p).WithField("replication", s.replication).Info("uploaded object")
	return true, nil
}

func (s *ContentStore) finalize(ctx context.Context, p string) error {
	if err := s.driver.SetReplication(ctx, p, s.replication); err != nil {
		return fmt.Errorf("failed to set replication of %s: %w", p, err)
	}
	if err := s.driver.SetPermissions(ctx, p, ReadOnlyMode); err != nil {
		return fmt.Errorf("failed to set permissions of %s: %w", p, err)
	}
	return nil
}

// ReadManifest reads and parses the manifest with the given hash.
func (s *ContentStore) ReadManifest(ctx context.Context, hash string) (*manifest.Manifest, error) {
	p := s.Path(ManifestClass, hash)
	raw, err := s.driver.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", p, err)
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", p, err)
	}
	if m.Hash != strings.ToLower(hash) {
		log.G(ctx).WithField("path", p).WithField("content_hash", m.Hash).Warn("manifest content does not match its name")
		m.Hash = strings.ToLower(hash)
	}
	return m, nil
}

// ListManifests returns the hashes of every stored manifest.
func (s *ContentStore) ListManifests(ctx context.Context) ([]string, error) {
	dir := path.Join(s.root, string(ManifestClass))
	names, err := s.driver.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	hashes := make([]string, 0, len(names))
	for _, n := range names {
		if !hashutil.IsHash(n) {
			log.G(ctx).WithField("name", n).Debug("ignoring non-manifest entry")
			continue
		}
		hashes = append(hashes, strings.ToLower(n))
	}
	return hashes, nil
}

type object struct {
	class Class
	hash  string
}

// imageObjects lists the objects of an image with the manifest last, so that
// a present manifest implies a complete image.
func imageObjects(m *manifest.Manifest) []object {
	var objects []object
	for _, l := range m.LayerHashes() {
		objects = append(objects, object{LayerClass, l})
	}
	return append(objects, object{ConfigClass, m.ConfigHash()}, object{ManifestClass, m.Hash})
}

// HasImage reports whether the manifest, its config and all its layers are
// stored.
func (s *ContentStore) HasImage(ctx context.Context, m *manifest.Manifest) (bool, error) {
	for _, o := range imageObjects(m) {
		exists, err := s.Exists(ctx, o.class, o.hash)
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}

// Delete removes paths. Every path is attempted; failures are logged and
// returned joined together with the number of removed paths.
func (s *ContentStore) Delete(ctx context.Context, paths []string) (int, error) {
	var (
		removed int
		errs    []error
	)
	for _, p := range paths {
		if err := s.driver.Remove(ctx, p); err != nil {
			log.G(ctx).WithError(err).WithField("path", p).Error("failed to delete object")
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		log.G(ctx).WithField("path", p).Info("deleted object")
		removed++
	}
	return removed, errors.Join(errs...)
}

// CopyImage copies the layers, config and manifest of m from src into s. Both
// stores must be on the same file system; the copy uses s's driver.
// Objects already in s are kept unless overwrite is set. It returns the
// number of copied objects.
func (s *ContentStore) CopyImage(ctx context.Context, src *ContentStore, m *manifest.Manifest, overwrite bool) (int, error) {
	copied := 0
	for _, o := range imageObjects(m) {
		dst := s.Path(o.class, o.hash)
		exists, err := s.Exists(ctx, o.class, o.hash)
		if err != nil {
			return copied, err
		}
		if exists && !overwrite {
			log.G(ctx).WithField("path", dst).Info("object already exists, not copying")
			continue
		}
		if err := s.driver.Copy(ctx, src.Path(o.class, o.hash), dst, overwrite); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", dst, err)
		}
		if err := s.finalize(ctx, dst); err != nil {
			return copied, err
		}
		log.G(ctx).WithField("path", dst).Info("copied object")
		copied++
	}
	return copied, nil
}
