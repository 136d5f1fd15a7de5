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

// Package tagindex holds the mapping between image tags and manifest hashes
// that is stored as the image-tag-to-hash file at the root of a store.
//
// An Index keeps two views in step:
//
//   - hash -> (tags, comments): the tags bound to a manifest hash and free-text
//     annotations about it (usually the reference the image was pulled from).
//   - tag -> hash: exactly one hash per tag.
//
// For every tag t with tag -> hash h, t is in the tag set of h, and the other
// way round. When the last tag of a hash is removed the whole entry is dropped,
// comments included.
//
// All operations are in memory; loading and publishing the file is done by
// package indexfile.
package tagindex

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/awslabs/docker-to-squash/util/hashutil"
)

var (
	// ErrInvalidTag is returned by ValidateTag for tags that cannot be
	// represented in the index file.
	ErrInvalidTag = errors.New("invalid tag")
)

type entry struct {
	tags     []string
	comments []string
}

// Index is the in-memory tag index of one store.
type Index struct {
	entries   map[string]*entry
	tagToHash map[string]string
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		entries:   make(map[string]*entry),
		tagToHash: make(map[string]string),
	}
}

// ValidateTag checks that tag can be written to the index file. Tags are
// separated by commas, terminated by the last colon of a line and followed by
// an optional '#' comment, so none of ',', '#' or whitespace may appear.
// A colon is fine, since the hash that follows the last colon never has one.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty tag", ErrInvalidTag)
	}
	if strings.ContainsAny(tag, ",# \t\r\n") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidTag, tag)
	}
	if hashutil.IsHash(tag) {
		return fmt.Errorf("%w: %q is indistinguishable from a content hash", ErrInvalidTag, tag)
	}
	return nil
}

// AssignTag binds tag to hash, replacing any previous binding of tag, and
// records the comments for hash. Empty comments and comments already recorded
// for hash are ignored.
func (idx *Index) AssignTag(tag, hash string, comments ...string) {
	hash = strings.ToLower(hash)
	if prev, ok := idx.tagToHash[tag]; ok && prev != hash {
		idx.RemoveTag(tag)
	}
	idx.tagToHash[tag] = hash
	e, ok := idx.entries[hash]
	if !ok {
		e = &entry{}
		idx.entries[hash] = e
	}
	if !slices.Contains(e.tags, tag) {
		e.tags = append(e.tags, tag)
	}
	for _, c := range splitComments(comments...) {
		if !slices.Contains(e.comments, c) {
			e.comments = append(e.comments, c)
		}
	}
}

// AssignTags calls AssignTag for each tag.
func (idx *Index) AssignTags(tags []string, hash string, comments ...string) {
	for _, tag := range tags {
		idx.AssignTag(tag, hash, comments...)
	}
}

// RemoveTag removes tag. It returns false when tag was not bound.
func (idx *Index) RemoveTag(tag string) bool {
	hash, ok := idx.tagToHash[tag]
	if !ok {
		return false
	}
	delete(idx.tagToHash, tag)
	if e, ok := idx.entries[hash]; ok {
		e.tags = slices.DeleteFunc(e.tags, func(t string) bool { return t == tag })
		if len(e.tags) == 0 {
			delete(idx.entries, hash)
		}
	}
	return true
}

// RemoveHash removes hash and every tag bound to it. It returns the removed
// tags.
func (idx *Index) RemoveHash(hash string) []string {
	hash = strings.ToLower(hash)
	e, ok := idx.entries[hash]
	if !ok {
		return nil
	}
	delete(idx.entries, hash)
	for _, tag := range e.tags {
		delete(idx.tagToHash, tag)
	}
	return e.tags
}

// Lookup returns the hash tag is bound to.
func (idx *Index) Lookup(tag string) (string, bool) {
	hash, ok := idx.tagToHash[tag]
	return hash, ok
}

// Has reports whether hash has an entry.
func (idx *Index) Has(hash string) bool {
	_, ok := idx.entries[strings.ToLower(hash)]
	return ok
}

// Tags returns the tags bound to hash in the order they were added.
func (idx *Index) Tags(hash string) []string {
	if e, ok := idx.entries[strings.ToLower(hash)]; ok {
		return slices.Clone(e.tags)
	}
	return nil
}

// Comments returns the comments recorded for hash.
func (idx *Index) Comments(hash string) []string {
	if e, ok := idx.entries[strings.ToLower(hash)]; ok {
		return slices.Clone(e.comments)
	}
	return nil
}

// Hashes returns every hash with an entry, sorted.
func (idx *Index) Hashes() []string {
	hashes := make([]string, 0, len(idx.entries))
	for h := range idx.entries {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// AllTags returns every bound tag, sorted.
func (idx *Index) AllTags() []string {
	tags := make([]string, 0, len(idx.tagToHash))
	for t := range idx.tagToHash {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of hashes in the index.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// splitComments normalizes comments into the items the file format can carry:
// the serializer joins items with ", " so an item never contains that
// separator, and a line break would end the record.
func splitComments(comments ...string) []string {
	var items []string
	for _, c := range comments {
		c = strings.NewReplacer("\r", " ", "\n", " ").Replace(c)
		for _, item := range strings.Split(c, commentSeparator) {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
