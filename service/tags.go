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
	"fmt"
	"io"

	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// AddTag binds tags to images already in the store. An image is named by a
// manifest hash, a tag in the index, or a registry reference whose manifest
// is looked up.
func (s *Service) AddTag(ctx context.Context, images []ImageTags) (res Results, err error) {
	defer func() { s.record(OpAddTag, err) }()
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
		r := Result{Image: it.Image, Tags: it.Tags}
		r.Hash, r.Err = s.storedImage(ctx, idx, it.Image)
		if r.Err != nil {
			log.G(ctx).WithError(r.Err).WithField("image", it.Image).Error("cannot tag image")
		} else {
			idx.AssignTags(it.Tags, r.Hash, it.Image)
			log.G(ctx).WithField("image", it.Image).WithField("hash", r.Hash).WithField("tags", it.Tags).Info("tagged image")
		}
		res = append(res, r)
	}
	if err := s.publishIndex(ctx, s.index, idx, s.localIndexPath(""), prev); err != nil {
		return res, err
	}
	return res, res.Err()
}

// storedImage returns the manifest hash image refers to, which must be in the
// store.
func (s *Service) storedImage(ctx context.Context, idx *tagindex.Index, image string) (string, error) {
	hash, ok := resolveHash(idx, image)
	if !ok {
		raw, err := s.fetcher.Manifest(ctx, image)
		if err != nil {
			return "", err
		}
		m, err := manifest.Parse(raw)
		if err != nil {
			return "", err
		}
		hash = m.Hash
	}
	exists, err := s.content.Exists(ctx, store.ManifestClass, hash)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("manifest %s is not in the store: %w", hash, errdefs.ErrNotFound)
	}
	return hash, nil
}

// RemoveTag unbinds tags. Content is never removed; see RemoveImage.
func (s *Service) RemoveTag(ctx context.Context, tags []string) (err error) {
	defer func() { s.record(OpRemoveTag, err) }()
	cleanup, err := s.createWorkDir(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	idx, prev, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if idx.RemoveTag(tag) {
			log.G(ctx).WithField("tag", tag).Info("removed tag")
		} else {
			log.G(ctx).WithField("tag", tag).Info("tag does not exist")
		}
	}
	return s.publishIndex(ctx, s.index, idx, s.localIndexPath(""), prev)
}

// TagInfo is where the content of a tagged image is stored.
type TagInfo struct {
	Tag  string
	Hash string
	// Manifest, Config and Layers are only set when the manifest is stored.
	Manifest string
	Config   string
	Layers   []string
}

// QueryTag looks up each tag, or manifest hash, and the store paths of the
// image it refers to.
func (s *Service) QueryTag(ctx context.Context, tags []string) (infos []TagInfo, err error) {
	defer func() { s.record(OpQueryTag, err) }()
	cleanup, err := s.createWorkDir(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, _, err := s.index.Load(ctx, s.localIndexPath(""))
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		info := TagInfo{Tag: tag}
		hash, ok := resolveHash(idx, tag)
		if !ok {
			log.G(ctx).WithField("tag", tag).Info("no mapping for tag")
			infos = append(infos, info)
			continue
		}
		info.Hash = hash
		exists, err := s.content.Exists(ctx, store.ManifestClass, hash)
		if err != nil {
			return infos, err
		}
		if !exists {
			log.G(ctx).WithField("tag", tag).WithField("hash", hash).Info("manifest of tag does not exist")
			infos = append(infos, info)
			continue
		}
		m, err := s.content.ReadManifest(ctx, hash)
		if err != nil {
			return infos, err
		}
		info.Manifest = s.content.Path(store.ManifestClass, hash)
		info.Config = s.content.Path(store.ConfigClass, m.ConfigHash())
		for _, l := range m.LayerHashes() {
			info.Layers = append(info.Layers, s.content.Path(store.LayerClass, l))
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ListTags copies the index file to w as it is stored.
func (s *Service) ListTags(ctx context.Context, w io.Writer) (err error) {
	defer func() { s.record(OpListTags, err) }()
	b, err := s.driver.Read(ctx, s.index.Path())
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("index %s does not exist: %w", s.index.Path(), err)
		}
		return err
	}
	_, err = w.Write(b)
	return err
}
