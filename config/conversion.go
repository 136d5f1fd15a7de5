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

package config

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// PackagerConfig configures how converted layer trees are packed.
type PackagerConfig struct {
	// MksquashfsPath is the mksquashfs executable.
	MksquashfsPath string `toml:"mksquashfs_path"`
	// Args are appended to every mksquashfs invocation, e.g. ["-comp", "zstd"].
	Args []string `toml:"args"`
}

func parsePackagerConfig(cfg *Config) error {
	if cfg.PackagerConfig.MksquashfsPath == "" {
		cfg.PackagerConfig.MksquashfsPath = defaultMksquashfsPath
	}
	return nil
}

// OverlayOpaqueType selects the xattr namespace used to mark opaque
// directories.
type OverlayOpaqueType string

const (
	// OverlayOpaqueTrusted sets trusted.overlay.opaque, read by a root-mounted overlayfs.
	OverlayOpaqueTrusted OverlayOpaqueType = "trusted"
	// OverlayOpaqueUser sets user.overlay.opaque, read by overlayfs mounted with userxattr.
	OverlayOpaqueUser OverlayOpaqueType = "user"
	// OverlayOpaqueAll sets both.
	OverlayOpaqueAll OverlayOpaqueType = "all"
)

// DecompressStream specifies the configuration for a decompression implementation.
type DecompressStream struct {
	// Path is the system path to the decompression binary.
	Path string `toml:"path"`

	// Args is a list of command arguments passed to the decompression binary.
	Args []string `toml:"args"`
}

// ConversionConfig configures how layer archives are expanded.
type ConversionConfig struct {
	OverlayOpaqueType OverlayOpaqueType `toml:"overlay_opaque_type"`

	// DecompressStreams replaces the built-in decompressors with external
	// binaries, keyed by algorithm ("gzip" or "zstd").
	DecompressStreams map[string]DecompressStream `toml:"decompress_streams"`

	// KeepLayerArchives leaves downloaded layer archives in the working
	// directory after conversion.
	KeepLayerArchives bool `toml:"keep_layer_archives"`
}

func parseConversionConfig(cfg *Config) error {
	if cfg.ConversionConfig.OverlayOpaqueType == "" {
		cfg.ConversionConfig.OverlayOpaqueType = defaultOverlayOpaqueType
	}
	switch cfg.ConversionConfig.OverlayOpaqueType {
	case OverlayOpaqueTrusted, OverlayOpaqueUser, OverlayOpaqueAll:
	default:
		return fmt.Errorf("unknown overlay opaque type %q: %w", cfg.ConversionConfig.OverlayOpaqueType, errdefs.ErrInvalidArgument)
	}
	return nil
}
