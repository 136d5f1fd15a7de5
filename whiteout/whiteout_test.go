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

package whiteout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("creating whiteout devices requires root")
	}
}

func touch(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func hasValidWhiteout(t *testing.T, p string, uid, gid uint32) {
	t.Helper()
	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		t.Fatalf("whiteout %q missing: %v", p, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		t.Errorf("whiteout %q isn't a char device", p)
	}
	if st.Mode&0o7777 != 0 {
		t.Errorf("whiteout %q has an invalid mode %o; want 0", p, st.Mode&0o7777)
	}
	if st.Rdev != unix.Mkdev(0, 0) {
		t.Errorf("whiteout %q has invalid device numbers (%d, %d); want (0, 0)",
			p, unix.Major(st.Rdev), unix.Minor(st.Rdev))
	}
	if st.Uid != uid || st.Gid != gid {
		t.Errorf("whiteout %q is owned by %d:%d; want %d:%d", p, st.Uid, st.Gid, uid, gid)
	}
}

func hasOpaque(t *testing.T, dir, key string) {
	t.Helper()
	buf := make([]byte, 16)
	n, err := unix.Lgetxattr(dir, key, buf)
	if errors.Is(err, unix.ENOTSUP) {
		t.Skipf("file system does not support %s", key)
	}
	if err != nil {
		t.Fatalf("directory %q doesn't have %s: %v", dir, key, err)
	}
	if string(buf[:n]) != opaqueXattrValue {
		t.Errorf("directory %q has an invalid %s %q", dir, key, buf[:n])
	}
}

func notExist(t *testing.T, p string) {
	t.Helper()
	if _, err := os.Lstat(p); !os.IsNotExist(err) {
		t.Errorf("%q still exists: %v", p, err)
	}
}

func TestTranslate(t *testing.T) {
	requireRoot(t)
	for _, opaque := range []config.OverlayOpaqueType{config.OverlayOpaqueTrusted, config.OverlayOpaqueUser, config.OverlayOpaqueAll} {
		t.Run(string(opaque), func(t *testing.T) {
			root := t.TempDir()
			touch(t, filepath.Join(root, ".wh.foo"))
			if err := os.Lchown(filepath.Join(root, ".wh.foo"), 1234, 5678); err != nil {
				t.Fatal(err)
			}
			touch(t, filepath.Join(root, "dir", "kept.txt"))
			touch(t, filepath.Join(root, "dir", Prefix+"removed.txt"))
			touch(t, filepath.Join(root, "opaque", OpaqueMarker))
			touch(t, filepath.Join(root, MetaPrefix+"plnk", "link"))

			stats, err := Translate(context.Background(), root, WithOpaqueType(opaque))
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if stats != (Stats{Whiteouts: 2, Opaques: 1, Ignored: 1}) {
				t.Errorf("stats = %+v", stats)
			}

			hasValidWhiteout(t, filepath.Join(root, "foo"), 1234, 5678)
			hasValidWhiteout(t, filepath.Join(root, "dir", "removed.txt"), 0, 0)
			for _, k := range OpaqueXattrs(opaque) {
				hasOpaque(t, filepath.Join(root, "opaque"), k)
			}
			notExist(t, filepath.Join(root, ".wh.foo"))
			notExist(t, filepath.Join(root, "dir", Prefix+"removed.txt"))
			notExist(t, filepath.Join(root, "opaque", OpaqueMarker))
			notExist(t, filepath.Join(root, MetaPrefix+"plnk"))
			if _, err := os.Stat(filepath.Join(root, "dir", "kept.txt")); err != nil {
				t.Errorf("regular file lost: %v", err)
			}
		})
	}
}

func TestTranslateResumes(t *testing.T) {
	requireRoot(t)
	root := t.TempDir()
	// A previous run created the device but crashed before removing the marker.
	touch(t, filepath.Join(root, ".wh.foo"))
	if err := unix.Mknod(filepath.Join(root, "foo"), unix.S_IFCHR, int(unix.Mkdev(0, 0))); err != nil {
		t.Fatal(err)
	}
	if _, err := Translate(context.Background(), root); err != nil {
		t.Fatalf("Translate after a partial run: %v", err)
	}
	hasValidWhiteout(t, filepath.Join(root, "foo"), 0, 0)
	notExist(t, filepath.Join(root, ".wh.foo"))

	ok, err := IsWhiteout(filepath.Join(root, "foo"))
	if err != nil || !ok {
		t.Fatalf("IsWhiteout = %v, %v", ok, err)
	}
}

func TestTranslateConflict(t *testing.T) {
	requireRoot(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, ".wh.foo"))
	touch(t, filepath.Join(root, "foo"))
	if _, err := Translate(context.Background(), root); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := os.Lstat(filepath.Join(root, ".wh.foo")); err != nil {
		t.Fatalf("marker removed although its whiteout failed: %v", err)
	}
}

func TestTranslateNoWhiteouts(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "b.txt"))
	touch(t, filepath.Join(root, "wh.c"))
	stats, err := Translate(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{}) {
		t.Fatalf("stats = %+v", stats)
	}
	ok, err := IsWhiteout(filepath.Join(root, "wh.c"))
	if err != nil || ok {
		t.Fatalf("IsWhiteout of a regular file = %v, %v", ok, err)
	}
}

func TestTranslateUnknownOpaqueType(t *testing.T) {
	_, err := Translate(context.Background(), t.TempDir(), WithOpaqueType("system"))
	if !errdefs.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
