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

// Package manifest reads image manifests: the JSON documents that name an
// image's config and its ordered layers. Docker schema2 and OCI manifests are
// accepted; manifest lists and OCI indexes must first be resolved to a single
// platform with SelectPlatform.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/containerd/containerd/images"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var (
	// ErrManifestList is returned when a manifest list or index is given
	// where an image manifest is expected.
	ErrManifestList = errors.New("manifest list or index needs a platform to be selected")
	// ErrUnsupportedManifest is returned for schema 1 and unrecognized documents.
	ErrUnsupportedManifest = errors.New("unsupported manifest")
	// ErrNoMatchingPlatform is returned when no manifest of an index matches.
	ErrNoMatchingPlatform = errors.New("no manifest found for platform")
)

// unknownDocument represents a manifest, manifest list, or index that has not
// yet been validated.
type unknownDocument struct {
	MediaType string          `json:"mediaType,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	Layers    json.RawMessage `json:"layers,omitempty"`
	Manifests json.RawMessage `json:"manifests,omitempty"`
	FSLayers  json.RawMessage `json:"fsLayers,omitempty"` // schema 1
}

// Manifest is a parsed image manifest together with the bytes it was parsed
// from. The store addresses manifests by the hash of those exact bytes.
type Manifest struct {
	ocispec.Manifest

	// Hash is the sha256 hash of Raw.
	Hash string
	// Raw is the manifest as it was fetched or stored.
	Raw []byte
}

// IsIndex reports whether raw is a manifest list or an OCI index.
func IsIndex(raw []byte) bool {
	var doc unknownDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return len(doc.Manifests) != 0 || images.IsIndexType(doc.MediaType)
}

// Parse parses raw as an image manifest.
func Parse(raw []byte) (*Manifest, error) {
	var doc unknownDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid manifest json: %w", err)
	}
	switch {
	case len(doc.FSLayers) != 0:
		return nil, fmt.Errorf("%w: schema 1", ErrUnsupportedManifest)
	case len(doc.Manifests) != 0 || images.IsIndexType(doc.MediaType):
		return nil, ErrManifestList
	case doc.MediaType != "" && !images.IsManifestType(doc.MediaType):
		return nil, fmt.Errorf("%w: media type %q", ErrUnsupportedManifest, doc.MediaType)
	case len(doc.Config) == 0:
		return nil, fmt.Errorf("%w: no config", ErrUnsupportedManifest)
	}

	m := &Manifest{Hash: hashutil.BytesHash(raw), Raw: raw}
	if err := json.Unmarshal(raw, &m.Manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest json: %w", err)
	}
	if _, err := hashutil.FromDigest(m.Config.Digest); err != nil {
		return nil, fmt.Errorf("invalid config digest: %w", err)
	}
	for i, l := range m.Layers {
		if _, err := hashutil.FromDigest(l.Digest); err != nil {
			return nil, fmt.Errorf("invalid digest of layer %d: %w", i, err)
		}
	}
	return m, nil
}

// ParseFile parses the manifest stored at path.
func ParseFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ConfigHash returns the hash of the image config.
func (m *Manifest) ConfigHash() string {
	return m.Config.Digest.Encoded()
}

// LayerHashes returns the layer hashes, lowest layer first.
func (m *Manifest) LayerHashes() []string {
	hashes := make([]string, 0, len(m.Layers))
	for _, l := range m.Layers {
		hashes = append(hashes, l.Digest.Encoded())
	}
	return hashes
}

// LayerMediaType returns the media type of the layer with the given hash.
func (m *Manifest) LayerMediaType(hash string) string {
	for _, l := range m.Layers {
		if l.Digest.Encoded() == hash {
			return l.MediaType
		}
	}
	return ""
}

// SelectPlatform picks the manifest for platform out of a manifest list or
// OCI index. Entries without a platform are treated as the default platform.
func SelectPlatform(raw []byte, platform ocispec.Platform) (ocispec.Descriptor, error) {
	var index ocispec.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("invalid index json: %w", err)
	}
	matcher := platforms.Only(platform)
	var (
		best  ocispec.Descriptor
		found bool
	)
	for _, m := range index.Manifests {
		p := platforms.DefaultSpec()
		if m.Platform != nil {
			p = *m.Platform
		}
		if !matcher.Match(p) {
			continue
		}
		if !found || matcher.Less(p, *best.Platform) {
			best = m
			best.Platform = &p
			found = true
		}
	}
	if !found {
		return ocispec.Descriptor{}, fmt.Errorf("%w %s", ErrNoMatchingPlatform, platforms.Format(platform))
	}
	return best, nil
}
