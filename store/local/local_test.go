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

package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
)

func TestDriver(t *testing.T) {
	ctx := context.Background()
	d := New()
	root := t.TempDir()
	local := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(local, []byte("content"), 0o600); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(root, "a", "b")
	if err := d.Mkdir(ctx, dir); err != nil {
		t.Fatal(err)
	}
	obj := filepath.Join(dir, "obj")
	if ok, err := d.Exists(ctx, obj); ok || err != nil {
		t.Fatalf("Exists before Put = %v, %v", ok, err)
	}
	if err := d.Put(ctx, local, obj, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Put(ctx, local, obj, false); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("second Put without overwrite = %v", err)
	}
	if err := d.SetPermissions(ctx, obj, 0o444); err != nil {
		t.Fatal(err)
	}
	if err := d.Put(ctx, local, obj, true); err != nil {
		t.Fatalf("overwriting a read-only object: %v", err)
	}

	b, err := d.Read(ctx, obj)
	if err != nil || string(b) != "content" {
		t.Fatalf("Read = %q, %v", b, err)
	}
	names, err := d.List(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"obj"}, names); diff != "" {
		t.Fatalf("List left temporary files behind (-want +got):\n%s", diff)
	}

	copyPath := filepath.Join(dir, "copy")
	if err := d.Copy(ctx, obj, copyPath, false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	moved := filepath.Join(dir, "moved")
	if err := d.RenameReplace(ctx, copyPath, moved); err != nil {
		t.Fatalf("RenameReplace: %v", err)
	}
	if ok, _ := d.Exists(ctx, copyPath); ok {
		t.Fatal("rename source still exists")
	}

	got := filepath.Join(t.TempDir(), "got")
	if err := d.Get(ctx, moved, got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b, _ := os.ReadFile(got); string(b) != "content" {
		t.Fatalf("Get wrote %q", b)
	}
	if err := d.Get(ctx, moved, got); !errdefs.IsAlreadyExists(err) {
		t.Fatalf("Get onto an existing file = %v", err)
	}

	if err := d.SetReplication(ctx, moved, 3); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(ctx, moved); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(ctx, moved); !errdefs.IsNotFound(err) {
		t.Fatalf("Remove of a missing object = %v", err)
	}
	if _, err := d.Read(ctx, moved); !errdefs.IsNotFound(err) {
		t.Fatalf("Read of a missing object = %v", err)
	}
	if _, err := d.List(ctx, filepath.Join(root, "nope")); !errdefs.IsNotFound(err) {
		t.Fatalf("List of a missing dir = %v", err)
	}
}
