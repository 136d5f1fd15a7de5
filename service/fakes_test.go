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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/awslabs/docker-to-squash/fetcher"
	"github.com/awslabs/docker-to-squash/layer"
	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeImage struct {
	raw   []byte
	blobs map[string][]byte
}

// fakeFetcher serves images from memory in the layout of a real pull.
type fakeFetcher struct {
	mu      sync.Mutex
	images  map[string]*fakeImage
	fetches map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{images: make(map[string]*fakeImage), fetches: make(map[string]int)}
}

// add registers ref as an image with the given config and layer contents.
func (f *fakeFetcher) add(t *testing.T, ref, config string, layers ...string) *manifest.Manifest {
	t.Helper()
	img := &fakeImage{blobs: make(map[string][]byte)}
	blob := func(content, mediaType string) ocispec.Descriptor {
		d := digest.FromString(content)
		img.blobs[d.Encoded()] = []byte(content)
		return ocispec.Descriptor{MediaType: mediaType, Digest: d, Size: int64(len(content))}
	}
	m := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    blob(config, ocispec.MediaTypeImageConfig),
	}
	m.SchemaVersion = 2
	for _, l := range layers {
		m.Layers = append(m.Layers, blob(l, ocispec.MediaTypeImageLayerGzip))
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	img.raw = raw
	f.images[ref] = img
	parsed, err := manifest.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func (f *fakeFetcher) Manifest(_ context.Context, ref string) ([]byte, error) {
	img, ok := f.images[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, errdefs.ErrNotFound)
	}
	return img.raw, nil
}

func (f *fakeFetcher) Fetch(_ context.Context, ref, dir string) (*manifest.Manifest, error) {
	img, ok := f.images[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, errdefs.ErrNotFound)
	}
	f.mu.Lock()
	f.fetches[ref]++
	f.mu.Unlock()
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errdefs.ErrAlreadyExists
		}
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, fetcher.ManifestFile), img.raw, 0o644); err != nil {
		return nil, err
	}
	for h, b := range img.blobs {
		if err := os.WriteFile(filepath.Join(dir, h), b, 0o644); err != nil {
			return nil, err
		}
	}
	return manifest.Parse(img.raw)
}

// fakeConverter "converts" a layer by prefixing its archive.
type fakeConverter struct {
	mu        sync.Mutex
	converted []string
	fail      map[string]error
}

const squashPrefix = "sqsh:"

func (c *fakeConverter) Convert(_ context.Context, dir, hash, _ string) (string, error) {
	out := layer.SquashPath(dir, hash)
	archive := filepath.Join(dir, hash)
	if _, err := os.Stat(out); err == nil {
		if _, err := os.Stat(archive); os.IsNotExist(err) {
			return out, nil
		}
	}
	if err := c.fail[hash]; err != nil {
		return "", err
	}
	b, err := os.ReadFile(archive)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, append([]byte(squashPrefix), b...), 0o644); err != nil {
		return "", err
	}
	if err := os.Remove(archive); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.converted = append(c.converted, hash)
	c.mu.Unlock()
	return out, nil
}

func (c *fakeConverter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.converted)
}
