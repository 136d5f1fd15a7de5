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

// Package fetcher pulls images from registries into a local directory using
// the layout of skopeo's "dir" transport:
//
//	<dir>/manifest.json
//	<dir>/<config hash>
//	<dir>/<layer hash>
//
// Manifest lists and OCI indexes are resolved to the configured platform.
package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ManifestFile is the name of the manifest in a pulled image directory.
const ManifestFile = "manifest.json"

// Fetcher pulls images.
type Fetcher interface {
	// Manifest returns the raw image manifest ref resolves to.
	Manifest(ctx context.Context, ref string) ([]byte, error)
	// Fetch pulls the image into dir, which must not exist yet.
	Fetch(ctx context.Context, ref, dir string) (*manifest.Manifest, error)
}

// New returns the fetcher selected by cfg.
func New(cfg config.FetcherConfig) (Fetcher, error) {
	switch cfg.Type {
	case config.SkopeoFetcherType, "":
		return NewSkopeo(cfg)
	case config.OrasFetcherType:
		return NewOras(cfg)
	default:
		return nil, fmt.Errorf("unknown fetcher type %q: %w", cfg.Type, errdefs.ErrInvalidArgument)
	}
}

// ParseReference normalizes an image reference, adding the default registry
// and the latest tag where they are missing.
func ParseReference(ref string) (reference.Named, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", ref, errdefs.ErrInvalidArgument)
	}
	return reference.TagNameOnly(named), nil
}

// DirName is the name of the directory an image is pulled into: the last
// path element of the reference as it was given.
func DirName(ref string) string {
	return ref[strings.LastIndex(ref, "/")+1:]
}

func parsePlatform(s string) (ocispec.Platform, error) {
	if s == "" {
		return platforms.DefaultSpec(), nil
	}
	p, err := platforms.Parse(s)
	if err != nil {
		return ocispec.Platform{}, fmt.Errorf("invalid platform %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return p, nil
}
