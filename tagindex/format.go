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

package tagindex

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/awslabs/docker-to-squash/util/hashutil"
	"github.com/containerd/log"
)

// The index file is line oriented:
//
//	tag1,tag2:hash#comment1, comment2
//
// Everything after the first '#' is the comment, and the hash follows the last
// ':' before it.
const (
	tagSeparator     = ","
	hashSeparator    = ":"
	commentMarker    = "#"
	commentSeparator = ", "
)

var (
	// ErrMalformedLine marks a line without tags or without a valid hash.
	ErrMalformedLine = errors.New("malformed index line")
	// ErrDuplicateTag marks a tag claimed by more than one hash.
	ErrDuplicateTag = errors.New("tag claimed by more than one hash")
	// ErrOrphanComment marks a line holding only a comment.
	ErrOrphanComment = errors.New("comment without tags")
)

// LineError is a problem with one line of an index file. Lines with errors are
// skipped (or, for duplicate tags, applied with the later line winning), so a
// LineError is a warning rather than a parse failure.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Parse reads an index file. The returned warnings describe lines that were
// skipped or needed fixing up; the error is only set when r fails.
func Parse(ctx context.Context, r io.Reader) (*Index, []error, error) {
	var (
		idx      = New()
		warnings []error
		br       = bufio.NewReader(r)
		lineNo   int
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, warnings, fmt.Errorf("failed to read index: %w", err)
		}
		if line != "" {
			lineNo++
			if w := idx.parseLine(lineNo, line); w != nil {
				if errors.Is(w, ErrOrphanComment) {
					log.G(ctx).WithError(w).Debug("skipping index line")
				} else {
					log.G(ctx).WithError(w).Warn("index line needs attention")
				}
				warnings = append(warnings, w)
			}
		}
		if err != nil {
			break
		}
	}
	return idx, warnings, nil
}

// ParseFile reads the index file at path.
func ParseFile(ctx context.Context, path string) (*Index, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Parse(ctx, f)
}

func (idx *Index) parseLine(lineNo int, line string) error {
	line = strings.TrimRight(line, " \t\r\n\v\f")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	lineErr := func(err error) error {
		return &LineError{Line: lineNo, Text: line, Err: err}
	}

	record, comment, _ := strings.Cut(line, commentMarker)
	if strings.TrimSpace(record) == "" {
		return lineErr(ErrOrphanComment)
	}
	i := strings.LastIndex(record, hashSeparator)
	if i < 0 {
		return lineErr(fmt.Errorf("%w: no hash separator", ErrMalformedLine))
	}
	hash := strings.TrimSpace(record[i+1:])
	if !hashutil.IsHash(hash) {
		return lineErr(fmt.Errorf("%w: invalid hash %q", ErrMalformedLine, hash))
	}
	var tags []string
	for _, t := range strings.Split(record[:i], tagSeparator) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return lineErr(fmt.Errorf("%w: no tags", ErrMalformedLine))
	}

	hash = strings.ToLower(hash)
	var dups []string
	for _, t := range tags {
		if prev, ok := idx.tagToHash[t]; ok && prev != hash {
			dups = append(dups, fmt.Sprintf("%s (was %s)", t, prev))
		}
		idx.AssignTag(t, hash)
	}
	// Comments of separate lines for one hash are concatenated as they are,
	// unlike AssignTag which suppresses repeats.
	e := idx.entries[hash]
	e.comments = append(e.comments, splitComments(comment)...)

	if len(dups) > 0 {
		return lineErr(fmt.Errorf("%w: %s", ErrDuplicateTag, strings.Join(dups, ", ")))
	}
	return nil
}

// WriteTo writes the index in file format. Lines are ordered by hash and tags
// keep the order in which they were assigned.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, hash := range idx.Hashes() {
		e := idx.entries[hash]
		var lines []string
		if len(e.tags) > 0 {
			l := strings.Join(e.tags, tagSeparator) + hashSeparator + hash
			if len(e.comments) > 0 {
				l += commentMarker + strings.Join(e.comments, commentSeparator)
			}
			lines = append(lines, l)
		} else {
			for _, c := range e.comments {
				lines = append(lines, commentMarker+c)
			}
		}
		for _, l := range lines {
			m, err := bw.WriteString(l + "\n")
			n += int64(m)
			if err != nil {
				return n, err
			}
		}
	}
	return n, bw.Flush()
}

// Bytes returns the serialized index.
func (idx *Index) Bytes() []byte {
	var buf bytes.Buffer
	idx.WriteTo(&buf)
	return buf.Bytes()
}

// Equal reports whether idx and other hold the same bindings and comments.
func (idx *Index) Equal(other *Index) bool {
	if idx.Len() != other.Len() || len(idx.tagToHash) != len(other.tagToHash) {
		return false
	}
	for hash, e := range idx.entries {
		o, ok := other.entries[hash]
		if !ok || !slices.Equal(e.tags, o.tags) || !slices.Equal(e.comments, o.comments) {
			return false
		}
	}
	return true
}
