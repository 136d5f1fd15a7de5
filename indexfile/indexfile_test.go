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

package indexfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/docker-to-squash/store"
	"github.com/awslabs/docker-to-squash/store/local"
	"github.com/awslabs/docker-to-squash/tagindex"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
)

// countingDriver counts uploads and renames and can be told to fail them.
type countingDriver struct {
	store.Driver
	puts, renames int
	failPut       bool
	failRename    bool
}

func (d *countingDriver) Put(ctx context.Context, localPath, p string, overwrite bool) error {
	d.puts++
	if d.failPut {
		return errors.New("put failed")
	}
	return d.Driver.Put(ctx, localPath, p, overwrite)
}

func (d *countingDriver) RenameReplace(ctx context.Context, src, dst string) error {
	d.renames++
	if d.failRename {
		return errors.New("rename failed")
	}
	return d.Driver.RenameReplace(ctx, src, dst)
}

func newRemote(t *testing.T) (*Remote, *countingDriver) {
	t.Helper()
	d := &countingDriver{Driver: local.New()}
	return &Remote{Driver: d, Dir: t.TempDir(), Name: "image-tag-to-hash", Replication: 1}, d
}

func localPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "image-tag-to-hash")
}

func TestLoadMissingIndex(t *testing.T) {
	r, _ := newRemote(t)
	idx, prev, err := r.Load(context.Background(), localPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 0 || prev != "" {
		t.Fatalf("Load of a missing index = %d entries, prev %q", idx.Len(), prev)
	}
}

func TestPublishAndLoad(t *testing.T) {
	ctx := context.Background()
	r, _ := newRemote(t)
	idx := tagindex.New()
	idx.AssignTag("alpine", hashA, "docker.io/library/alpine")

	published, err := r.Publish(ctx, idx, localPath(t), "")
	if err != nil || !published {
		t.Fatalf("Publish = %v, %v", published, err)
	}
	info, err := os.Stat(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != store.ReadOnlyMode {
		t.Fatalf("index mode %o, want read-only", info.Mode().Perm())
	}
	if _, err := os.Stat(r.tmpPath()); !os.IsNotExist(err) {
		t.Fatalf("temporary index left behind: %v", err)
	}

	loaded, prev, err := r.Load(ctx, localPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Equal(idx) {
		t.Fatalf("loaded %q, published %q", loaded.Bytes(), idx.Bytes())
	}
	if prev == "" {
		t.Fatal("Load of an existing index returned no hash")
	}
}

func TestPublishUnchangedIsNoop(t *testing.T) {
	ctx := context.Background()
	r, d := newRemote(t)
	idx := tagindex.New()
	idx.AssignTag("v1", hashA)
	if _, err := r.Publish(ctx, idx, localPath(t), ""); err != nil {
		t.Fatal(err)
	}

	loaded, prev, err := r.Load(ctx, localPath(t))
	if err != nil {
		t.Fatal(err)
	}
	published, err := r.Publish(ctx, loaded, localPath(t), prev)
	if err != nil || published {
		t.Fatalf("second Publish = %v, %v", published, err)
	}
	if d.puts != 1 || d.renames != 1 {
		t.Fatalf("identical content uploaded %d times and renamed %d times", d.puts, d.renames)
	}
}

func TestPublishRemovesStaleTemporary(t *testing.T) {
	r, _ := newRemote(t)
	if err := os.WriteFile(r.tmpPath(), []byte("left over from a crash\n"), 0o444); err != nil {
		t.Fatal(err)
	}
	idx := tagindex.New()
	idx.AssignTag("v1", hashA)
	if _, err := r.Publish(context.Background(), idx, localPath(t), ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	b, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != string(idx.Bytes()) {
		t.Fatalf("published %q", b)
	}
}

func TestPublishFailureKeepsCanonical(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(d *countingDriver)
	}{
		{name: "upload", setup: func(d *countingDriver) { d.failPut = true }},
		{name: "rename", setup: func(d *countingDriver) { d.failRename = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			r, d := newRemote(t)
			old := tagindex.New()
			old.AssignTag("v1", hashA)
			if _, err := r.Publish(ctx, old, localPath(t), ""); err != nil {
				t.Fatal(err)
			}
			_, prev, err := r.Load(ctx, localPath(t))
			if err != nil {
				t.Fatal(err)
			}

			tc.setup(d)
			next := tagindex.New()
			next.AssignTag("v2", hashB)
			if _, err := r.Publish(ctx, next, localPath(t), prev); err == nil {
				t.Fatal("expected Publish to fail")
			}
			b, err := os.ReadFile(r.Path())
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != string(old.Bytes()) {
				t.Fatalf("canonical index changed to %q", b)
			}
			if _, err := os.Stat(r.tmpPath()); !os.IsNotExist(err) {
				t.Fatalf("temporary index left behind: %v", err)
			}
		})
	}
}

func TestPublishCheckPrevious(t *testing.T) {
	ctx := context.Background()
	r, _ := newRemote(t)
	r.CheckPrevious = true

	base := tagindex.New()
	base.AssignTag("v1", hashA)
	if _, err := r.Publish(ctx, base, localPath(t), ""); err != nil {
		t.Fatal(err)
	}
	_, prev, err := r.Load(ctx, localPath(t))
	if err != nil {
		t.Fatal(err)
	}

	// Another writer publishes in between.
	other := tagindex.New()
	other.AssignTag("other", hashB)
	if _, err := r.Publish(ctx, other, localPath(t), prev); err != nil {
		t.Fatal(err)
	}

	mine := tagindex.New()
	mine.AssignTag("mine", hashB)
	if _, err := r.Publish(ctx, mine, localPath(t), prev); !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	b, _ := os.ReadFile(r.Path())
	if string(b) != string(other.Bytes()) {
		t.Fatalf("concurrent update was overwritten: %q", b)
	}
}

func TestPublishEmptyIndexFirstTime(t *testing.T) {
	r, _ := newRemote(t)
	published, err := r.Publish(context.Background(), tagindex.New(), localPath(t), "")
	if err != nil || !published {
		t.Fatalf("Publish = %v, %v", published, err)
	}
	if b, err := os.ReadFile(r.Path()); err != nil || len(b) != 0 {
		t.Fatalf("index = %q, %v", b, err)
	}
}
