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

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/internal/command"
	"github.com/awslabs/docker-to-squash/manifest"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/distribution/reference"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Skopeo pulls images with the skopeo command line.
type Skopeo struct {
	path         string
	pullFormat   string
	skopeoFormat string
	platform     ocispec.Platform
	overrides    []string
	runner       command.Runner
}

var _ Fetcher = &Skopeo{}

type SkopeoOption func(*Skopeo)

// WithRunner replaces the runner used to start skopeo.
func WithRunner(r command.Runner) SkopeoOption {
	return func(s *Skopeo) {
		s.runner = r
	}
}

// NewSkopeo returns a fetcher running the configured skopeo.
func NewSkopeo(cfg config.FetcherConfig, opts ...SkopeoOption) (*Skopeo, error) {
	p, err := parsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}
	s := &Skopeo{
		path:         cfg.SkopeoPath,
		pullFormat:   cfg.PullFormat,
		skopeoFormat: cfg.SkopeoFormat,
		platform:     p,
		runner:       &command.Exec{},
	}
	if s.path == "" {
		s.path = "skopeo"
	}
	if s.pullFormat == "" {
		s.pullFormat = "docker"
	}
	if s.skopeoFormat == "" {
		s.skopeoFormat = "dir"
	}
	if cfg.Platform != "" {
		s.overrides = []string{"--override-os", p.OS, "--override-arch", p.Architecture}
		if p.Variant != "" {
			s.overrides = append(s.overrides, "--override-variant", p.Variant)
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Skopeo) source(ref string) string {
	return s.pullFormat + "://" + ref
}

// Manifest implements Fetcher.
func (s *Skopeo) Manifest(ctx context.Context, ref string) ([]byte, error) {
	raw, err := s.inspect(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !manifest.IsIndex(raw) {
		return raw, nil
	}
	desc, err := manifest.SelectPlatform(raw, s.platform)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	named, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	canonical, err := reference.WithDigest(reference.TrimNamed(named), desc.Digest)
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("image", ref).WithField("manifest", desc.Digest).Debug("resolved manifest list")
	return s.inspect(ctx, canonical.String())
}

func (s *Skopeo) inspect(ctx context.Context, ref string) ([]byte, error) {
	args := append(append([]string{}, s.overrides...), "inspect", "--raw", s.source(ref))
	out, err := s.runner.Run(ctx, s.path, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", ref, err)
	}
	return out, nil
}

// Fetch implements Fetcher.
func (s *Skopeo) Fetch(ctx context.Context, ref, dir string) (*manifest.Manifest, error) {
	if _, err := os.Lstat(dir); err == nil {
		return nil, fmt.Errorf("pull directory %s: %w", dir, errdefs.ErrAlreadyExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	log.G(ctx).WithField("image", ref).Info("pulling image")
	args := append(append([]string{}, s.overrides...), "copy", s.source(ref), s.skopeoFormat+":"+dir)
	if _, err := s.runner.Run(ctx, s.path, args...); err != nil {
		return nil, fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	return manifest.ParseFile(filepath.Join(dir, ManifestFile))
}
