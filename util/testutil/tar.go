/*
   Copyright The containerd Authors.

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

package testutil

// This utility helps tests generate sample image layers.

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how a built layer is compressed.
type Compression int

const (
	Uncompressed Compression = iota
	Gzip
	Zstd
)

// TarEntry writes itself into a layer.
type TarEntry interface {
	AppendTar(tw *tar.Writer) error
}

type tarEntryFunc func(*tar.Writer) error

func (f tarEntryFunc) AppendTar(tw *tar.Writer) error { return f(tw) }

// BuildLayer builds a layer archive from ents.
func BuildLayer(ents []TarEntry, c Compression) ([]byte, error) {
	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)
	switch c {
	case Uncompressed:
		w = nopWriteCloser{&buf}
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Zstd:
		w, err = zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
	tw := tar.NewWriter(w)
	for _, ent := range ents {
		if err := ent.AppendTar(tw); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteLayer builds a layer and stores it in dir under its hash, the way
// pulled layers are laid out. It returns the hash.
func WriteLayer(t testing.TB, dir string, c Compression, ents ...TarEntry) string {
	t.Helper()
	b, err := BuildLayer(ents, c)
	if err != nil {
		t.Fatalf("failed to build layer: %v", err)
	}
	h := hashutil.BytesHash(b)
	if err := os.WriteFile(filepath.Join(dir, h), b, 0o644); err != nil {
		t.Fatalf("failed to write layer: %v", err)
	}
	return h
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// EntryOption adjusts the header of an entry.
type EntryOption func(h *tar.Header)

// WithOwner sets the uid and gid of the entry.
func WithOwner(uid, gid int) EntryOption {
	return func(h *tar.Header) {
		h.Uid = uid
		h.Gid = gid
	}
}

func entry(h *tar.Header, contents string, opts []EntryOption) TarEntry {
	return tarEntryFunc(func(tw *tar.Writer) error {
		for _, o := range opts {
			o(h)
		}
		h.Size = int64(len(contents))
		if err := tw.WriteHeader(h); err != nil {
			return err
		}
		_, err := io.WriteString(tw, contents)
		return err
	})
}

// Dir is a directory entry. name must end with a slash.
func Dir(name string, opts ...EntryOption) TarEntry {
	if !strings.HasSuffix(name, "/") {
		panic(fmt.Sprintf("directory %q needs a trailing slash", name))
	}
	return entry(&tar.Header{Typeflag: tar.TypeDir, Name: name, Mode: 0o755}, "", opts)
}

func File(name, contents string, opts ...EntryOption) TarEntry {
	return entry(&tar.Header{Typeflag: tar.TypeReg, Name: name, Mode: 0o644}, contents, opts)
}

// Whiteout is an AUFS whiteout marker deleting name from lower layers.
func Whiteout(name string, opts ...EntryOption) TarEntry {
	return File(filepath.Join(filepath.Dir(name), ".wh."+filepath.Base(name)), "", opts...)
}

// Opaque is an AUFS marker making dir opaque.
func Opaque(dir string) TarEntry {
	return File(filepath.Join(dir, ".wh..wh..opq"), "")
}

func Symlink(name, target string, opts ...EntryOption) TarEntry {
	return entry(&tar.Header{Typeflag: tar.TypeSymlink, Name: name, Linkname: target, Mode: 0o777}, "", opts)
}
