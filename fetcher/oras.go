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
	"io"
	"os"
	"path/filepath"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/manifest"
	httputil "github.com/awslabs/docker-to-squash/util/http"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/distribution/reference"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

const (
	dockerHubDomain   = "docker.io"
	dockerHubRegistry = "registry-1.docker.io"

	// dirVersionFile marks a directory as a skopeo "dir" layout.
	dirVersionFile    = "version"
	dirVersionContent = "Directory Transport Version: 1.1\n"
)

// Oras pulls images with an in-process registry client. Registry mirrors
// are tried before the registry itself.
type Oras struct {
	client                 *auth.Client
	plainHTTP              bool
	platform               ocispec.Platform
	mirrors                map[string]config.HostConfig
	maxConcurrentDownloads int
}

var _ Fetcher = &Oras{}

// NewOras returns a registry client fetcher.
func NewOras(cfg config.FetcherConfig) (*Oras, error) {
	p, err := parsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}
	return &Oras{
		client: &auth.Client{
			Client:     httputil.NewRetryableClient(cfg.RetryableHTTPClientConfig),
			Cache:      auth.NewCache(),
			Credential: dockerCredentials(cfg.DockerConfigDir),
		},
		plainHTTP:              cfg.PlainHTTP,
		platform:               p,
		mirrors:                cfg.ResolverConfig.Host,
		maxConcurrentDownloads: cfg.MaxConcurrentDownloads,
	}, nil
}

// repositories returns the repositories ref can be pulled from, mirrors
// first.
func (o *Oras) repositories(named reference.Named) ([]*remote.Repository, error) {
	domain, path := reference.Domain(named), reference.Path(named)
	var repos []*remote.Repository
	add := func(host string, plainHTTP bool) error {
		repo, err := remote.NewRepository(host + "/" + path)
		if err != nil {
			return fmt.Errorf("cannot create repository %s/%s: %w", host, path, err)
		}
		repo.Client = o.client
		repo.PlainHTTP = plainHTTP
		repos = append(repos, repo)
		return nil
	}
	for _, m := range o.mirrors[domain].Mirrors {
		if err := add(m.Host, m.Insecure || o.plainHTTP); err != nil {
			return nil, err
		}
	}
	host := domain
	if host == dockerHubDomain {
		host = dockerHubRegistry
	}
	if err := add(host, o.plainHTTP); err != nil {
		return nil, err
	}
	return repos, nil
}

func tagOrDigest(named reference.Named) string {
	if c, ok := named.(reference.Canonical); ok {
		return c.Digest().String()
	}
	if t, ok := named.(reference.Tagged); ok {
		return t.Tag()
	}
	return "latest"
}

// resolve fetches the platform manifest of ref from the first repository
// that serves it.
func (o *Oras) resolve(ctx context.Context, ref string) ([]byte, *remote.Repository, error) {
	named, err := ParseReference(ref)
	if err != nil {
		return nil, nil, err
	}
	repos, err := o.repositories(named)
	if err != nil {
		return nil, nil, err
	}
	var errs []error
	for _, repo := range repos {
		raw, err := o.fetchManifest(ctx, repo, tagOrDigest(named))
		if err == nil {
			return raw, repo, nil
		}
		log.G(ctx).WithError(httputil.RedactError(err)).WithField("repository", repo.Reference.String()).Debug("failed to fetch manifest")
		errs = append(errs, err)
	}
	return nil, nil, fmt.Errorf("failed to fetch manifest of %s: %w", ref, errors.Join(errs...))
}

func (o *Oras) fetchManifest(ctx context.Context, repo *remote.Repository, tagOrDigest string) ([]byte, error) {
	desc, rc, err := repo.FetchReference(ctx, tagOrDigest)
	if err != nil {
		return nil, err
	}
	raw, err := readAll(rc, desc)
	if err != nil || !manifest.IsIndex(raw) {
		return raw, err
	}
	child, err := manifest.SelectPlatform(raw, o.platform)
	if err != nil {
		return nil, err
	}
	rc, err = repo.Manifests().Fetch(ctx, child)
	if err != nil {
		return nil, err
	}
	return readAll(rc, child)
}

func readAll(rc io.ReadCloser, desc ocispec.Descriptor) ([]byte, error) {
	defer rc.Close()
	return content.ReadAll(rc, desc)
}

// Manifest implements Fetcher.
func (o *Oras) Manifest(ctx context.Context, ref string) ([]byte, error) {
	raw, _, err := o.resolve(ctx, ref)
	return raw, err
}

// Fetch implements Fetcher. The config and layers are downloaded
// concurrently.
func (o *Oras) Fetch(ctx context.Context, ref, dir string) (*manifest.Manifest, error) {
	raw, repo, err := o.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("pull directory %s: %w", dir, errdefs.ErrAlreadyExists)
		}
		return nil, err
	}
	log.G(ctx).WithField("image", ref).WithField("repository", repo.Reference.String()).Info("pulling image")

	eg, egCtx := errgroup.WithContext(ctx)
	if o.maxConcurrentDownloads > 0 {
		eg.SetLimit(o.maxConcurrentDownloads)
	}
	for _, desc := range append([]ocispec.Descriptor{m.Config}, m.Layers...) {
		eg.Go(func() error {
			return fetchBlob(egCtx, repo, desc, filepath.Join(dir, desc.Digest.Encoded()))
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, dirVersionFile), []byte(dirVersionContent), 0o644); err != nil {
		return nil, err
	}
	return m, nil
}

// fetchBlob downloads desc to path, verifying its size and digest.
func fetchBlob(ctx context.Context, repo *remote.Repository, desc ocispec.Descriptor, path string) error {
	if _, err := os.Stat(path); err == nil {
		// Configs may be shared with a layer in degenerate images.
		return nil
	}
	rc, err := repo.Blobs().Fetch(ctx, desc)
	if err != nil {
		return fmt.Errorf("failed to fetch blob %s: %w", desc.Digest, httputil.RedactError(err))
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	vr := content.NewVerifyReader(rc, desc)
	if _, err := io.Copy(tmp, vr); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download blob %s: %w", desc.Digest, httputil.RedactError(err))
	}
	if err := vr.Verify(); err != nil {
		tmp.Close()
		return fmt.Errorf("blob %s: %w", desc.Digest, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	log.G(ctx).WithField("digest", desc.Digest).WithField("size", desc.Size).Debug("fetched blob")
	return os.Rename(tmp.Name(), path)
}

// dockerCredentials reads registry credentials from the docker CLI config.
func dockerCredentials(configDir string) func(context.Context, string) (auth.Credential, error) {
	return func(_ context.Context, host string) (auth.Credential, error) {
		username, secret, err := DockerCreds(configDir, host)
		if err != nil {
			return auth.EmptyCredential, err
		}
		if username == "" && secret != "" {
			return auth.Credential{
				RefreshToken: secret,
			}, nil
		}
		return auth.Credential{
			Username: username,
			Password: secret,
		}, nil
	}
}
