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

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/awslabs/docker-to-squash/fetcher"
	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"
)

// Publish pulls each image, converts the layers the store does not have yet,
// uploads them with the config and manifest, binds the tags and finally
// publishes the index. Images already complete in the store are not pulled
// unless force is set.
func (s *Service) Publish(ctx context.Context, images []ImageTags) (res Results, err error) {
	defer func() { s.record(OpPublish, err) }()
	cleanup, err := s.createWorkDir(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, prev, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range images {
		r := s.publishImage(ctx, it)
		if r.Err != nil {
			log.G(ctx).WithError(r.Err).WithField("image", it.Image).Error("failed to publish image")
		} else {
			idx.AssignTags(it.Tags, r.Hash, it.Image)
		}
		res = append(res, r)
	}
	if err := s.publishIndex(ctx, s.index, idx, s.localIndexPath(""), prev); err != nil {
		return res, err
	}
	return res, res.Err()
}

func (s *Service) publishImage(ctx context.Context, it ImageTags) Result {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("image", it.Image))
	res := Result{Image: it.Image, Tags: it.Tags}
	log.G(ctx).WithField("tags", it.Tags).Info("publishing image")

	raw, err := s.fetcher.Manifest(ctx, it.Image)
	if err != nil {
		res.Err = err
		return res
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		res.Err = err
		return res
	}
	res.Hash = m.Hash
	if skipped, err := s.skipComplete(ctx, m); err != nil || skipped > 0 {
		res.Skipped, res.Err = skipped, err
		return res
	}

	dir := s.imageDir(it.Image)
	fetched, err := s.fetcher.Fetch(ctx, it.Image, dir)
	if err != nil {
		res.Err = err
		return res
	}
	defer os.RemoveAll(dir)
	if fetched.Hash != m.Hash {
		log.G(ctx).WithField("inspected", m.Hash).WithField("pulled", fetched.Hash).Warn("image changed while it was pulled, publishing the pulled manifest")
		res.Hash = fetched.Hash
	}
	res.Uploaded, res.Skipped, res.Err = s.pushImage(ctx, dir, fetched)
	return res
}

// skipComplete returns the number of objects of m when the store already has
// all of them and force is not set.
func (s *Service) skipComplete(ctx context.Context, m *manifest.Manifest) (int, error) {
	if s.cfg.Force {
		return 0, nil
	}
	has, err := s.content.HasImage(ctx, m)
	if err != nil || !has {
		return 0, err
	}
	log.G(ctx).WithField("hash", m.Hash).Info("image already in the store, skipping")
	layers := uniqueLayers(m)
	for range layers {
		s.metrics.IncSkip(string(store.LayerClass))
	}
	s.metrics.IncSkip(string(store.ConfigClass))
	s.metrics.IncSkip(string(store.ManifestClass))
	return len(layers) + 2, nil
}

func uniqueLayers(m *manifest.Manifest) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, h := range m.LayerHashes() {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// pushImage converts and uploads the layers of m found in dir, then its
// config and last its manifest, so a stored manifest implies a complete
// image.
func (s *Service) pushImage(ctx context.Context, dir string, m *manifest.Manifest) (int, int, error) {
	var uploaded, skipped atomic.Int32
	count := func(up bool) {
		if up {
			uploaded.Add(1)
		} else {
			skipped.Add(1)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.MaxConcurrentUploads)
	for _, h := range uniqueLayers(m) {
		eg.Go(func() error {
			up, err := s.pushLayer(egCtx, dir, m, h)
			if err != nil {
				return fmt.Errorf("layer %s: %w", h, err)
			}
			count(up)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(uploaded.Load()), int(skipped.Load()), err
	}

	up, err := s.put(ctx, store.ConfigClass, m.ConfigHash(), filepath.Join(dir, m.ConfigHash()))
	if err != nil {
		return int(uploaded.Load()), int(skipped.Load()), err
	}
	count(up)
	up, err = s.put(ctx, store.ManifestClass, m.Hash, filepath.Join(dir, fetcher.ManifestFile))
	if err != nil {
		return int(uploaded.Load()), int(skipped.Load()), err
	}
	count(up)
	return int(uploaded.Load()), int(skipped.Load()), nil
}

// pushLayer converts and uploads one layer unless the store has it.
func (s *Service) pushLayer(ctx context.Context, dir string, m *manifest.Manifest, hash string) (bool, error) {
	if !s.cfg.Force {
		exists, err := s.content.Exists(ctx, store.LayerClass, hash)
		if err != nil {
			return false, err
		}
		if exists {
			log.G(ctx).WithField("layer", hash).Info("layer already in the store, not converting")
			s.metrics.IncSkip(string(store.LayerClass))
			return false, nil
		}
	}
	out, err := s.converter.Convert(ctx, dir, hash, m.LayerMediaType(hash))
	if err != nil {
		return false, err
	}
	return s.put(ctx, store.LayerClass, hash, out)
}

func (s *Service) put(ctx context.Context, class store.Class, hash, localPath string) (bool, error) {
	uploaded, err := s.content.Put(ctx, class, hash, localPath, s.cfg.Force)
	if err != nil {
		return uploaded, err
	}
	if !uploaded {
		s.metrics.IncSkip(string(class))
		return false, nil
	}
	var size int64
	if fi, err := os.Stat(localPath); err == nil {
		size = fi.Size()
	}
	s.metrics.AddUpload(string(class), size)
	return true, nil
}

// PullOnly pulls and converts images into the working directory without
// touching the store. The working directory is left for PushOnly.
func (s *Service) PullOnly(ctx context.Context, images []ImageTags) (res Results, err error) {
	defer func() { s.record(OpPullOnly, err) }()
	if _, err := s.createWorkDir(ctx); err != nil {
		return nil, err
	}
	for _, it := range images {
		r := s.pullImage(ctx, it)
		if r.Err != nil {
			log.G(ctx).WithError(r.Err).WithField("image", it.Image).Error("failed to pull image")
		}
		res = append(res, r)
	}
	return res, res.Err()
}

func (s *Service) pullImage(ctx context.Context, it ImageTags) Result {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("image", it.Image))
	res := Result{Image: it.Image, Tags: it.Tags}
	dir := s.imageDir(it.Image)
	m, err := s.fetcher.Fetch(ctx, it.Image, dir)
	if err != nil {
		res.Err = err
		return res
	}
	res.Hash = m.Hash

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.MaxConcurrentUploads)
	for _, h := range uniqueLayers(m) {
		eg.Go(func() error {
			if _, err := s.converter.Convert(egCtx, dir, h, m.LayerMediaType(h)); err != nil {
				return fmt.Errorf("layer %s: %w", h, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.G(ctx).WithError(rmErr).WithField("dir", dir).Warn("failed to remove image directory")
		}
		res.Err = err
	}
	return res
}

// PushOnly uploads images previously pulled by PullOnly, binds their tags and
// publishes the index. The working directory is removed once every image is
// in the store.
func (s *Service) PushOnly(ctx context.Context, images []ImageTags) (res Results, err error) {
	defer func() { s.record(OpPushOnly, err) }()
	if _, err := os.Stat(s.cfg.WorkingDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("working directory %s does not exist, run %s first: %w", s.cfg.WorkingDir, OpPullOnly, errdefs.ErrNotFound)
		}
		return nil, err
	}
	localIndex := s.localIndexPath("")
	// A killed run may have left its download behind.
	if err := os.Remove(localIndex); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale index %s: %w", localIndex, err)
	}
	defer os.Remove(localIndex)

	idx, prev, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range images {
		r := s.pushPulled(ctx, it)
		if r.Err != nil {
			log.G(ctx).WithError(r.Err).WithField("image", it.Image).Error("failed to push image")
		} else {
			idx.AssignTags(it.Tags, r.Hash, it.Image)
		}
		res = append(res, r)
	}
	if err := s.publishIndex(ctx, s.index, idx, localIndex, prev); err != nil {
		return res, err
	}
	if res.Failed() == 0 {
		if err := os.RemoveAll(s.cfg.WorkingDir); err != nil {
			log.G(ctx).WithError(err).Warn("failed to remove working directory")
		}
	}
	return res, res.Err()
}

func (s *Service) pushPulled(ctx context.Context, it ImageTags) Result {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("image", it.Image))
	res := Result{Image: it.Image, Tags: it.Tags}
	dir := s.imageDir(it.Image)
	m, err := manifest.ParseFile(filepath.Join(dir, fetcher.ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("image was not pulled into %s: %w", dir, errdefs.ErrNotFound)
		}
		res.Err = err
		return res
	}
	res.Hash = m.Hash
	if skipped, err := s.skipComplete(ctx, m); err != nil || skipped > 0 {
		res.Skipped, res.Err = skipped, err
		return res
	}
	res.Uploaded, res.Skipped, res.Err = s.pushImage(ctx, dir, m)
	return res
}
