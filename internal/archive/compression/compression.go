// The following code was copied from https://github.com/containerd/containerd/blob/bcc810d6b9066471b0b6fa75f557a15a1cbf31bb/archive/compression/compression.go
// and modified to allow for configurable decompression streams.

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

package compression

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/awslabs/docker-to-squash/config"
	intos "github.com/awslabs/docker-to-squash/internal/os"
	"github.com/containerd/containerd/archive/compression"
	"github.com/containerd/log"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	gzipCompression = "gzip"
	zstdCompression = "zstd"
)

// dockerGzipMediaType represents gzip compressed container image layers in Docker images.
// It is copied from https://github.com/distribution/distribution/blob/e827ce2772e08f38884e5774846ffb1610965a0d/manifest/schema2/manifest.go#L27
const dockerGzipMediaType = "application/vnd.docker.image.rootfs.diff.tar.gzip"

// DecompressStream is any function which decompresses an archive.
//
// It is defined to match [github.com/containerd/containerd/archive/compression.DecompressStream] for easier swapping
// of decompress stream functionality.
type DecompressStream func(io.Reader) (compression.DecompressReadCloser, error)

// Decompressors maps layer media types to decompress streams. Media types
// without a configured stream are handled by containerd, which detects
// gzip, zstd and uncompressed tar from the stream itself.
type Decompressors struct {
	streams map[string]DecompressStream
}

// NewDecompressors builds the decompress streams configured by algorithm
// name. Unknown algorithms are ignored with a warning; a binary that is not
// a valid executable is an error.
func NewDecompressors(streams map[string]config.DecompressStream) (*Decompressors, error) {
	d := &Decompressors{streams: make(map[string]DecompressStream)}
	for alg, c := range streams {
		sanitizedPath, err := intos.LookExecutable(c.Path)
		if err != nil {
			return nil, fmt.Errorf("%s decompressor path validation failed: %w", alg, err)
		}
		switch alg {
		case gzipCompression:
			stream := decompress(&external{compression: compression.Gzip, path: sanitizedPath, args: c.Args})
			d.streams[ocispec.MediaTypeImageLayerGzip] = stream
			d.streams[dockerGzipMediaType] = stream
		case zstdCompression:
			d.streams[ocispec.MediaTypeImageLayerZstd] = decompress(&external{compression: compression.Zstd, path: sanitizedPath, args: c.Args})
		default:
			log.L.WithField("algorithm", alg).Warn("Unsupported compression algorithm")
		}
	}
	return d, nil
}

// Lookup returns the configured decompress stream for a layer media type.
func (d *Decompressors) Lookup(layerMediaType string) (DecompressStream, bool) {
	if d == nil {
		return nil, false
	}
	dec, ok := d.streams[layerMediaType]
	return dec, ok
}

// For returns the decompress stream to use for a layer media type, falling
// back to containerd's.
func (d *Decompressors) For(layerMediaType string) DecompressStream {
	if dec, ok := d.Lookup(layerMediaType); ok {
		return dec
	}
	return compression.DecompressStream
}

// external decompresses by piping through a binary.
type external struct {
	compression compression.Compression
	path        string
	args        []string
}

// piped is the stdout of a running decompressor. Closing it stops the
// process.
type piped struct {
	*io.PipeReader
	compression compression.Compression
	cancel      context.CancelFunc
}

func (p *piped) Close() error {
	p.cancel()
	return p.PipeReader.Close()
}

func (p *piped) GetCompression() compression.Compression {
	return p.compression
}

func decompress(e *external) DecompressStream {
	return func(in io.Reader) (compression.DecompressReadCloser, error) {
		if e.compression != compression.Gzip && e.compression != compression.Zstd {
			return nil, fmt.Errorf("unsupported compression algorithm: %v", e.compression)
		}
		ctx, cancel := context.WithCancel(context.Background())
		out, err := start(exec.CommandContext(ctx, e.path, e.args...), in)
		if err != nil {
			cancel()
			return nil, err
		}
		return &piped{PipeReader: out, compression: e.compression, cancel: cancel}, nil
	}
}

// start runs cmd with in as stdin. A failed exit surfaces as a read error
// carrying the process's stderr.
func start(cmd *exec.Cmd, in io.Reader) (*io.PipeReader, error) {
	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd.Stdin, cmd.Stdout, cmd.Stderr = in, pw, &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("%s: %w: %s", cmd.Path, err, bytes.TrimSpace(stderr.Bytes()))
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}
