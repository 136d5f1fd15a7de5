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

// Package whiteout rewrites the AUFS-style whiteout files found in image
// layers into the form overlayfs understands.
//
// A layer marks a deleted path "foo" with an empty file ".wh.foo" and a
// directory whose lower contents are hidden with ".wh..wh..opq". Overlayfs
// expects a character device with device number 0/0 for the former and an
// "overlay.opaque" xattr set to "y" for the latter.
package whiteout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

const (
	// Prefix marks a whiteout file.
	Prefix = ".wh."
	// MetaPrefix marks AUFS internal entries that do not delete anything.
	MetaPrefix = Prefix + Prefix
	// OpaqueMarker makes its directory opaque.
	OpaqueMarker = MetaPrefix + ".opq"

	opaqueXattrValue = "y"
)

var opaqueXattrs = map[config.OverlayOpaqueType][]string{
	config.OverlayOpaqueTrusted: {"trusted.overlay.opaque"},
	config.OverlayOpaqueUser:    {"user.overlay.opaque"},
	config.OverlayOpaqueAll:     {"trusted.overlay.opaque", "user.overlay.opaque"},
}

// OpaqueXattrs returns the xattrs set on opaque directories for t.
func OpaqueXattrs(t config.OverlayOpaqueType) []string {
	return opaqueXattrs[t]
}

type options struct {
	opaqueType config.OverlayOpaqueType
}

type Option func(*options)

// WithOpaqueType selects the namespace of the opaque xattr. The default is
// trusted.
func WithOpaqueType(t config.OverlayOpaqueType) Option {
	return func(o *options) {
		o.opaqueType = t
	}
}

// Stats counts what Translate did.
type Stats struct {
	Whiteouts int
	Opaques   int
	Ignored   int
}

// Translate rewrites every whiteout under root. Each marker is removed only
// after its replacement exists, so running Translate again after a failure
// picks up where it stopped. Any filesystem error is returned; the tree is
// then not fit to be packed.
func Translate(ctx context.Context, root string, opts ...Option) (Stats, error) {
	o := options{opaqueType: config.OverlayOpaqueTrusted}
	for _, opt := range opts {
		opt(&o)
	}
	keys, ok := opaqueXattrs[o.opaqueType]
	if !ok {
		return Stats{}, fmt.Errorf("unknown overlay opaque type %q: %w", o.opaqueType, errdefs.ErrInvalidArgument)
	}

	var markers []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root || !strings.HasPrefix(d.Name(), Prefix) {
			return nil
		}
		markers = append(markers, p)
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	var stats Stats
	for _, m := range markers {
		name := filepath.Base(m)
		switch {
		case name == OpaqueMarker:
			if err := setOpaque(filepath.Dir(m), keys); err != nil {
				return stats, err
			}
			stats.Opaques++
		case strings.HasPrefix(name, MetaPrefix):
			log.G(ctx).WithField("path", m).Warn("removing aufs metadata entry")
			if err := os.RemoveAll(m); err != nil {
				return stats, fmt.Errorf("failed to remove %s: %w", m, err)
			}
			stats.Ignored++
			continue
		default:
			if err := whiteout(m, filepath.Join(filepath.Dir(m), strings.TrimPrefix(name, Prefix))); err != nil {
				return stats, err
			}
			stats.Whiteouts++
		}
		if err := os.Remove(m); err != nil {
			return stats, fmt.Errorf("failed to remove whiteout marker %s: %w", m, err)
		}
	}
	log.G(ctx).WithField("root", root).
		WithField("whiteouts", stats.Whiteouts).
		WithField("opaques", stats.Opaques).
		Debug("translated whiteouts")
	return stats, nil
}

func setOpaque(dir string, keys []string) error {
	for _, k := range keys {
		if err := unix.Lsetxattr(dir, k, []byte(opaqueXattrValue), 0); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", k, dir, err)
		}
	}
	return nil
}

// whiteout replaces marker with a 0/0 character device at target owned by
// the marker's owner.
func whiteout(marker, target string) error {
	var st unix.Stat_t
	if err := unix.Lstat(marker, &st); err != nil {
		return fmt.Errorf("failed to stat %s: %w", marker, err)
	}

	applied, err := isWhiteout(target)
	if err != nil {
		return err
	}
	if !applied {
		if err := unix.Mknod(target, unix.S_IFCHR, int(unix.Mkdev(0, 0))); err != nil {
			return fmt.Errorf("failed to create whiteout %s: %w", target, err)
		}
	}
	if err := unix.Lchown(target, int(st.Uid), int(st.Gid)); err != nil {
		return fmt.Errorf("failed to chown whiteout %s: %w", target, err)
	}
	return nil
}

// isWhiteout reports whether p already is a whiteout device. Any other
// existing entry at p is an error.
func isWhiteout(p string) (bool, error) {
	var st unix.Stat_t
	err := unix.Lstat(p, &st)
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFCHR && st.Rdev == 0 {
		return true, nil
	}
	return false, fmt.Errorf("whiteout target %s exists in the same layer: %w", p, errdefs.ErrAlreadyExists)
}

// IsWhiteout reports whether p is an overlayfs whiteout.
func IsWhiteout(p string) (bool, error) {
	ok, err := isWhiteout(p)
	if errdefs.IsAlreadyExists(err) {
		return false, nil
	}
	return ok, err
}
