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

// Package layer converts downloaded layer archives into squashfs images.
//
// A layer archive is expanded into a scratch directory next to it, its
// whiteouts are translated for overlayfs and the tree is packed. The
// archive is removed only once the squashfs image exists, so an interrupted
// conversion can be retried.
package layer

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/awslabs/docker-to-squash/internal/archive/compression"
	"github.com/awslabs/docker-to-squash/packager"
	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/awslabs/docker-to-squash/whiteout"
	"github.com/containerd/containerd/archive"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// ScratchPrefix names the directory a layer is expanded into.
const ScratchPrefix = "expand_archive_"

// ErrScratchExists is returned when the scratch directory of a layer is
// already present, which means another conversion is running or crashed.
var ErrScratchExists = errors.New("scratch directory already exists")

// Converter converts the layer archive dir/<hash> into a squashfs image and
// returns its path.
type Converter interface {
	Convert(ctx context.Context, dir, hash, mediaType string) (string, error)
}

// SquashPath returns where the squashfs image of the layer is written.
func SquashPath(dir, hash string) string {
	return filepath.Join(dir, hash+store.LayerSuffix)
}

// ScratchPath returns the directory the layer is expanded into.
func ScratchPath(dir, hash string) string {
	return filepath.Join(dir, ScratchPrefix+hash)
}

// SquashConverter is the Converter used by the tool.
type SquashConverter struct {
	packager      packager.Packager
	decompressors *compression.Decompressors
	opaqueType    config.OverlayOpaqueType
	keepArchives  bool
}

var _ Converter = &SquashConverter{}

// NewConverter returns a converter packing with p.
func NewConverter(cfg config.ConversionConfig, p packager.Packager) (*SquashConverter, error) {
	d, err := compression.NewDecompressors(cfg.DecompressStreams)
	if err != nil {
		return nil, err
	}
	opaque := cfg.OverlayOpaqueType
	if opaque == "" {
		opaque = config.OverlayOpaqueTrusted
	}
	return &SquashConverter{
		packager:      p,
		decompressors: d,
		opaqueType:    opaque,
		keepArchives:  cfg.KeepLayerArchives,
	}, nil
}

// Convert implements Converter.
func (c *SquashConverter) Convert(ctx context.Context, dir, hash, mediaType string) (string, error) {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("layer", hash))
	archivePath := filepath.Join(dir, hash)
	out := SquashPath(dir, hash)

	haveArchive, err := exists(archivePath)
	if err != nil {
		return "", err
	}
	haveOut, err := exists(out)
	if err != nil {
		return "", err
	}
	switch {
	case haveOut && !haveArchive:
		log.G(ctx).Debug("layer already converted")
		return out, nil
	case haveOut:
		log.G(ctx).WithField("path", out).Warn("removing squashfs image of an unfinished conversion")
		if err := os.Remove(out); err != nil {
			return "", err
		}
	case !haveArchive:
		return "", fmt.Errorf("layer archive %s: %w", archivePath, errdefs.ErrNotFound)
	}

	scratch := ScratchPath(dir, hash)
	if err := os.Mkdir(scratch, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w: %w", scratch, ErrScratchExists, errdefs.ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.G(ctx).WithError(err).WithField("path", scratch).Warn("failed to remove scratch directory")
		}
	}()

	if err := c.expand(ctx, archivePath, hash, mediaType, scratch); err != nil {
		return "", err
	}
	stats, err := whiteout.Translate(ctx, scratch, whiteout.WithOpaqueType(c.opaqueType))
	if err != nil {
		return "", fmt.Errorf("failed to translate whiteouts of layer %s: %w", hash, err)
	}
	if err := c.packager.Pack(ctx, scratch, out); err != nil {
		return "", err
	}
	if !c.keepArchives {
		if err := os.Remove(archivePath); err != nil {
			return "", fmt.Errorf("failed to remove layer archive: %w", err)
		}
	}
	log.G(ctx).WithField("whiteouts", stats.Whiteouts).WithField("opaques", stats.Opaques).Info("converted layer")
	return out, nil
}

// expand decompresses the archive into root, checking that the compressed
// bytes hash to the layer's name.
func (c *SquashConverter) expand(ctx context.Context, archivePath, hash, mediaType, root string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	verifier := hashutil.ToDigest(hash).Verifier()
	r := io.TeeReader(f, verifier)
	decompressReader, err := c.decompressors.For(mediaType)(r)
	if err != nil {
		return fmt.Errorf("cannot decompress layer %s: %w", hash, err)
	}
	n, err := archive.Apply(ctx, root, decompressReader, archive.WithConvertWhiteout(keepWhiteouts))
	// Read any trailing data so the whole archive is verified.
	io.Copy(io.Discard, decompressReader)
	decompressReader.Close()
	if err != nil {
		return fmt.Errorf("cannot apply layer %s: %w", hash, err)
	}
	// Drain what the decompressor did not consume.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("layer archive %s does not match its hash: %w", archivePath, errdefs.ErrDataLoss)
	}
	log.G(ctx).WithField("bytes", n).Debug("expanded layer")
	return nil
}

// keepWhiteouts writes whiteout markers as plain files so that they can be
// translated afterwards.
func keepWhiteouts(*tar.Header, string) (bool, error) {
	return true, nil
}

func exists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
