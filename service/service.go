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

// Package service implements the docker-to-squash operations on top of a
// store, an image fetcher and a layer converter.
//
// Every operation that changes the tag index loads it fresh from the store,
// changes it in memory and publishes it atomically once. Image content is
// always uploaded before a tag can point at it.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/fetcher"
	"github.com/awslabs/docker-to-squash/indexfile"
	"github.com/awslabs/docker-to-squash/layer"
	"github.com/awslabs/docker-to-squash/metrics"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Operation names, as used by the CLI and in metrics.
const (
	OpPublish     = "publish"
	OpPullOnly    = "pull-only"
	OpPushOnly    = "push-only"
	OpRemoveImage = "remove-image"
	OpAddTag      = "add-tag"
	OpRemoveTag   = "remove-tag"
	OpCopy        = "copy"
	OpQueryTag    = "query-tag"
	OpListTags    = "list-tags"
)

// Service runs operations against the store configured in cfg.
type Service struct {
	cfg       *config.Config
	driver    store.Driver
	content   *store.ContentStore
	index     *indexfile.Remote
	fetcher   fetcher.Fetcher
	converter layer.Converter
	metrics   *metrics.Metrics
}

type Option func(*Service)

// WithMetrics records operation counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New returns a Service for the store root in cfg on driver. cfg must have
// been validated.
func New(cfg *config.Config, driver store.Driver, f fetcher.Fetcher, c layer.Converter, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		driver:    driver,
		fetcher:   f,
		converter: c,
	}
	s.content = s.contentStore(cfg.StoreConfig.Root)
	s.index = s.indexFile(cfg.StoreConfig.Root)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) contentStore(root string) *store.ContentStore {
	return store.New(s.driver, root,
		store.WithReplication(s.cfg.StoreConfig.Replication),
		store.WithTolerateUnreachable(s.cfg.StoreConfig.TolerateUnreachable),
	)
}

func (s *Service) indexFile(root string) *indexfile.Remote {
	return &indexfile.Remote{
		Driver:        s.driver,
		Dir:           root,
		Name:          s.cfg.ImageTagToHash,
		Replication:   s.cfg.StoreConfig.Replication,
		CheckPrevious: s.cfg.CheckPreviousIndex,
	}
}

// Content returns the content store of the configured root.
func (s *Service) Content() *store.ContentStore {
	return s.content
}

// createWorkDir creates the working directory, which must not exist, and
// returns a function removing it again.
func (s *Service) createWorkDir(ctx context.Context) (func(), error) {
	dir := s.cfg.WorkingDir
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("working directory %s exists, delete it and try again: %w", dir, errdefs.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	return func() {
		if err := os.RemoveAll(dir); err != nil {
			log.G(ctx).WithError(err).WithField("dir", dir).Warn("failed to remove working directory")
		}
	}, nil
}

func (s *Service) localIndexPath(prefix string) string {
	return filepath.Join(s.cfg.WorkingDir, prefix+s.cfg.ImageTagToHash)
}

func (s *Service) imageDir(image string) string {
	return filepath.Join(s.cfg.WorkingDir, fetcher.DirName(image))
}

// loadIndex sets up the store and loads its index.
func (s *Service) loadIndex(ctx context.Context) (*tagindex.Index, string, error) {
	if err := s.content.Setup(ctx); err != nil {
		return nil, "", err
	}
	return s.index.Load(ctx, s.localIndexPath(""))
}

func (s *Service) publishIndex(ctx context.Context, r *indexfile.Remote, idx *tagindex.Index, localPath, prevHash string) error {
	published, err := r.Publish(ctx, idx, localPath, prevHash)
	s.metrics.IncIndexPublish(published, err)
	return err
}

// resolveHash returns the manifest hash a tag or hash refers to in idx.
func resolveHash(idx *tagindex.Index, tagOrHash string) (string, bool) {
	if h, ok := idx.Lookup(tagOrHash); ok {
		return h, true
	}
	if hashutil.IsHash(tagOrHash) {
		return strings.ToLower(tagOrHash), true
	}
	return "", false
}

func (s *Service) record(op string, err error) {
	s.metrics.IncOperationCount(op, err)
}
