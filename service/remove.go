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

	"github.com/awslabs/docker-to-squash/gc"
	"github.com/containerd/log"
)

// RemoveImage removes the images named by tags or manifest hashes, their tags
// and all content no remaining image references.
func (s *Service) RemoveImage(ctx context.Context, tagsOrHashes []string) (res *gc.Result, err error) {
	defer func() { s.record(OpRemoveImage, err) }()
	cleanup, err := s.createWorkDir(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, prev, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, t := range tagsOrHashes {
		hash, ok := resolveHash(idx, t)
		if !ok {
			log.G(ctx).WithField("tag", t).Info("not removing image, tag does not exist")
			continue
		}
		targets = append(targets, hash)
	}
	if len(targets) == 0 {
		log.G(ctx).Warn("no images to remove")
		return &gc.Result{Plan: &gc.Plan{}}, nil
	}

	collector := &gc.Collector{Content: s.content, Index: s.index}
	res, err = collector.Run(ctx, idx, prev, s.localIndexPath(""), targets)
	if res != nil && len(res.Plan.Manifests) > 0 {
		s.metrics.IncIndexPublish(res.Published, err)
		s.metrics.AddGCDeletes(res.Deleted, res.Failed)
	}
	return res, err
}
