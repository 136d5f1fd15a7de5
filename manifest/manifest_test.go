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

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/google/go-cmp/cmp"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var (
	configHash = strings.Repeat("c", 64)
	layer1     = strings.Repeat("1", 64)
	layer2     = strings.Repeat("2", 64)
)

const dockerManifest = `{
  "schemaVersion": 2,
  "mediaType": "application/vnd.docker.distribution.manifest.v2+json",
  "config": {"mediaType": "application/vnd.docker.container.image.v1+json", "size": 10, "digest": "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"},
  "layers": [
    {"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip", "size": 1, "digest": "sha256:1111111111111111111111111111111111111111111111111111111111111111"},
    {"mediaType": "application/vnd.oci.image.layer.v1.tar+zstd", "size": 2, "digest": "sha256:2222222222222222222222222222222222222222222222222222222222222222"}
  ]
}`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(dockerManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Hash != hashutil.BytesHash([]byte(dockerManifest)) {
		t.Fatalf("Hash = %s, not the hash of the raw bytes", m.Hash)
	}
	if m.ConfigHash() != configHash {
		t.Fatalf("ConfigHash = %s", m.ConfigHash())
	}
	if diff := cmp.Diff([]string{layer1, layer2}, m.LayerHashes()); diff != "" {
		t.Fatalf("layer hashes (-want +got):\n%s", diff)
	}
	if got := m.LayerMediaType(layer2); got != ocispec.MediaTypeImageLayerZstd {
		t.Fatalf("LayerMediaType = %q", got)
	}
	if got := m.LayerMediaType(configHash); got != "" {
		t.Fatalf("LayerMediaType of a non-layer = %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name:    "index",
			raw:     `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[]}`,
			wantErr: ErrManifestList,
		},
		{
			name:    "docker manifest list",
			raw:     `{"schemaVersion":2,"manifests":[{"digest":"sha256:` + layer1 + `"}]}`,
			wantErr: ErrManifestList,
		},
		{
			name:    "schema 1",
			raw:     `{"schemaVersion":1,"fsLayers":[{"blobSum":"x"}]}`,
			wantErr: ErrUnsupportedManifest,
		},
		{
			name:    "no config",
			raw:     `{"schemaVersion":2,"layers":[]}`,
			wantErr: ErrUnsupportedManifest,
		},
		{
			name:    "other document",
			raw:     `{"mediaType":"application/vnd.oci.image.config.v1+json","config":{}}`,
			wantErr: ErrUnsupportedManifest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	for _, raw := range []string{
		`not json`,
		`{"config":{"digest":"sha512:abc"},"layers":[]}`,
		`{"config":{"digest":"sha256:` + configHash + `"},"layers":[{"digest":"sha256:short"}]}`,
	} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse(%s) succeeded", raw)
		}
	}
}

func TestParseFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(p, []byte(dockerManifest), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := ParseFile(p)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(m.Layers) != 2 {
		t.Fatalf("got %d layers", len(m.Layers))
	}
}

func TestSelectPlatform(t *testing.T) {
	index := `{
  "schemaVersion": 2,
  "mediaType": "application/vnd.oci.image.index.v1+json",
  "manifests": [
    {"mediaType": "application/vnd.oci.image.manifest.v1+json", "size": 1, "digest": "sha256:` + layer1 + `", "platform": {"architecture": "amd64", "os": "linux"}},
    {"mediaType": "application/vnd.oci.image.manifest.v1+json", "size": 1, "digest": "sha256:` + layer2 + `", "platform": {"architecture": "arm64", "os": "linux", "variant": "v8"}}
  ]
}`
	if !IsIndex([]byte(index)) {
		t.Fatal("IsIndex = false for an index")
	}
	if IsIndex([]byte(dockerManifest)) {
		t.Fatal("IsIndex = true for a manifest")
	}

	desc, err := SelectPlatform([]byte(index), ocispec.Platform{OS: "linux", Architecture: "arm64"})
	if err != nil {
		t.Fatalf("SelectPlatform: %v", err)
	}
	if desc.Digest.Encoded() != layer2 {
		t.Fatalf("selected %s, want the arm64 manifest", desc.Digest)
	}

	_, err = SelectPlatform([]byte(index), ocispec.Platform{OS: "windows", Architecture: "amd64"})
	if !errors.Is(err, ErrNoMatchingPlatform) {
		t.Fatalf("expected ErrNoMatchingPlatform, got %v", err)
	}
}
