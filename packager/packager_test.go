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

package packager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/awslabs/docker-to-squash/config"
	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	name string
	args []string
	err  error
}

func (r *recorder) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.name, r.args = name, args
	if r.err == nil && len(args) > 1 {
		// Behave like mksquashfs and create the output.
		os.WriteFile(args[1], []byte("hsqs"), 0o644)
	}
	return nil, r.err
}

func TestPack(t *testing.T) {
	out := filepath.Join(t.TempDir(), "layer.sqsh")
	r := &recorder{}
	p := NewMksquashfs(config.PackagerConfig{MksquashfsPath: "/usr/bin/mksquashfs", Args: []string{"-comp", "zstd"}}, WithRunner(r))
	if err := p.Pack(context.Background(), "/work/expand_archive_x", out); err != nil {
		t.Fatal(err)
	}
	if r.name != "/usr/bin/mksquashfs" {
		t.Errorf("ran %q", r.name)
	}
	if diff := cmp.Diff([]string{"/work/expand_archive_x", out, "-comp", "zstd"}, r.args); diff != "" {
		t.Errorf("arguments (-want +got):\n%s", diff)
	}
}

func TestPackExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "layer.sqsh")
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	err := NewMksquashfs(config.PackagerConfig{MksquashfsPath: "mksquashfs"}, WithRunner(r)).Pack(context.Background(), "dir", out)
	if !errdefs.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if r.name != "" {
		t.Fatal("mksquashfs ran over an existing output")
	}
}

func TestPackFailureRemovesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "layer.sqsh")
	r := &recorder{err: errors.New("exit status 1")}
	if err := NewMksquashfs(config.PackagerConfig{MksquashfsPath: "mksquashfs"}, WithRunner(r)).Pack(context.Background(), "dir", out); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: %v", err)
	}
}
