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

// Package gc removes images from a store together with the content no other
// image references.
//
// Collection is mark and sweep. Every manifest that is not being removed is
// read and its config and layers are marked as kept. The manifests being
// removed are then swept along with whatever they reference that is not
// kept. The index is published before anything is deleted, so no published
// tag ever points at deleted content.
package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/awslabs/docker-to-squash/indexfile"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/tagindex"
	"github.com/containerd/log"
)

// Collector removes images from one store.
type Collector struct {
	Content *store.ContentStore
	Index   *indexfile.Remote
}

// Plan is the outcome of the mark phase.
type Plan struct {
	// Manifests are the hashes of the target manifests that exist.
	Manifests []string
	// Missing are the targets without a stored manifest.
	Missing []string
	// Keep holds the config and layer hashes referenced by surviving
	// manifests.
	Keep map[string]struct{}
	// Delete lists the object paths to remove, manifests first.
	Delete []string
}

// Result summarizes a collection.
type Result struct {
	Plan      *Plan
	Published bool
	Deleted   int
	Failed    int
}

// Plan computes what removing targets deletes. Targets are manifest hashes.
// A surviving manifest that cannot be read aborts the plan since it may
// reference content that would otherwise be deleted.
func (c *Collector) Plan(ctx context.Context, targets []string) (*Plan, error) {
	remove := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		remove[strings.ToLower(t)] = struct{}{}
	}

	known, err := c.Content.ListManifests(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]struct{}, len(known))
	p := &Plan{Keep: make(map[string]struct{})}
	for _, h := range known {
		stored[h] = struct{}{}
		if _, ok := remove[h]; ok {
			continue
		}
		m, err := c.Content.ReadManifest(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("failed to read surviving manifest %s: %w", h, err)
		}
		p.Keep[m.ConfigHash()] = struct{}{}
		for _, l := range m.LayerHashes() {
			p.Keep[l] = struct{}{}
		}
	}
	log.G(ctx).WithField("manifests", len(known)).WithField("kept", len(p.Keep)).Debug("marked referenced content")

	queued := make(map[string]struct{})
	enqueue := func(class store.Class, hash string) {
		if class != store.ManifestClass {
			if _, ok := p.Keep[hash]; ok {
				return
			}
		}
		path := c.Content.Path(class, hash)
		if _, ok := queued[path]; ok {
			return
		}
		queued[path] = struct{}{}
		p.Delete = append(p.Delete, path)
	}

	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		h := strings.ToLower(t)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := stored[h]; !ok {
			log.G(ctx).WithField("hash", h).Info("not removing image, manifest does not exist")
			p.Missing = append(p.Missing, h)
			continue
		}
		p.Manifests = append(p.Manifests, h)
		enqueue(store.ManifestClass, h)
		m, err := c.Content.ReadManifest(ctx, h)
		if err != nil {
			// Only the manifest is removed; whatever it referenced stays.
			log.G(ctx).WithError(err).WithField("hash", h).Warn("cannot read manifest of removed image, leaving its content")
			continue
		}
		enqueue(store.ConfigClass, m.ConfigHash())
		for _, l := range m.LayerHashes() {
			enqueue(store.LayerClass, l)
		}
	}
	return p, nil
}

// Run removes targets: it plans, drops the removed manifests from idx,
// publishes idx and finally deletes the planned objects. Deletion failures
// are logged and counted in the result.
func (c *Collector) Run(ctx context.Context, idx *tagindex.Index, prevHash, localPath string, targets []string) (*Result, error) {
	p, err := c.Plan(ctx, targets)
	if err != nil {
		return nil, err
	}
	res := &Result{Plan: p}
	if len(p.Manifests) == 0 {
		log.G(ctx).Warn("no images to remove")
		return res, nil
	}
	for _, h := range p.Manifests {
		if tags := idx.RemoveHash(h); len(tags) > 0 {
			log.G(ctx).WithField("hash", h).WithField("tags", tags).Info("removed tags of image")
		}
	}
	res.Published, err = c.Index.Publish(ctx, idx, localPath, prevHash)
	if err != nil {
		return res, fmt.Errorf("failed to publish index, nothing deleted: %w", err)
	}
	deleted, err := c.Content.Delete(ctx, p.Delete)
	res.Deleted = deleted
	res.Failed = len(p.Delete) - deleted
	if err != nil {
		log.G(ctx).WithError(err).WithField("failed", res.Failed).Warn("some objects could not be deleted")
	}
	return res, nil
}
