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

	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Copy copies images from the store at srcRoot to the store at dstRoot and
// binds them in the destination index. Images are named by a tag or manifest
// hash of the source; without tags the image name is used as the tag. The
// source comments of an image travel with it.
func (s *Service) Copy(ctx context.Context, srcRoot, dstRoot string, images []ImageTags) (res Results, err error) {
	defer func() { s.record(OpCopy, err) }()
	cleanup, err := s.createWorkDir(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	src, dst := s.contentStore(srcRoot), s.contentStore(dstRoot)
	dstIndex := s.indexFile(dstRoot)
	if err := dst.Setup(ctx); err != nil {
		return nil, err
	}
	srcIdx, _, err := s.indexFile(srcRoot).Load(ctx, s.localIndexPath("src-"))
	if err != nil {
		return nil, err
	}
	dstIdx, prev, err := dstIndex.Load(ctx, s.localIndexPath("dest-"))
	if err != nil {
		return nil, err
	}

	for _, it := range images {
		r := Result{Image: it.Image, Tags: it.Tags}
		if len(r.Tags) == 0 {
			r.Tags = []string{it.Image}
		}
		r.Err = s.copyImage(ctx, &r, srcIdx, dstIdx, src, dst)
		if r.Err != nil {
			log.G(ctx).WithError(r.Err).WithField("image", it.Image).Error("failed to copy image")
		}
		res = append(res, r)
	}
	if err := s.publishIndex(ctx, dstIndex, dstIdx, s.localIndexPath("dest-"), prev); err != nil {
		return res, err
	}
	return res, res.Err()
}

func (s *Service) copyImage(ctx context.Context, r *Result, srcIdx, dstIdx *tagindex.Index, src, dst *store.ContentStore) error {
	for _, tag := range r.Tags {
		if err := tagindex.ValidateTag(tag); err != nil {
			return fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
		}
	}
	hash, ok := resolveHash(srcIdx, r.Image)
	if !ok {
		log.G(ctx).WithField("image", r.Image).Info("image not found in the source index, skipping")
		r.Missing = true
		return nil
	}
	r.Hash = hash
	m, err := src.ReadManifest(ctx, hash)
	if err != nil {
		return err
	}
	copied, err := dst.CopyImage(ctx, src, m, s.cfg.Force)
	r.Uploaded = copied
	if err != nil {
		return err
	}
	r.Skipped = len(m.LayerHashes()) + 2 - copied

	comments := srcIdx.Comments(hash)
	if len(comments) == 0 {
		comments = []string{r.Image}
	}
	dstIdx.AssignTags(r.Tags, hash, comments...)
	log.G(ctx).WithField("image", r.Image).WithField("hash", hash).WithField("copied", copied).Info("copied image")
	return nil
}
