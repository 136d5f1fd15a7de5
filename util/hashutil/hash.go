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

// Package hashutil computes and validates the sha256 content hashes that
// address manifests, configs and layers in the store.
//
// Hashes are handled as bare lowercase hex (the form used in store paths and
// in the tag index file). Use ToDigest to get an algorithm-qualified
// digest.Digest.
package hashutil

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// HexLength is the length of a hex-encoded sha256 hash.
const HexLength = 64

// Existing index files were written by tooling that accepted either case.
var hashRegexp = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// IsHash reports whether s is a hex-encoded sha256 hash.
func IsHash(s string) bool {
	return hashRegexp.MatchString(s)
}

// FileHash returns the sha256 hash of the file at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return dgst.Encoded(), nil
}

// BytesHash returns the sha256 hash of b.
func BytesHash(b []byte) string {
	return digest.Canonical.FromBytes(b).Encoded()
}

// ToDigest converts a hex hash to a sha256 digest.Digest.
func ToDigest(hash string) digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(hash))
}

// FromDigest returns the hex part of a sha256 digest, validating it first.
func FromDigest(dgst digest.Digest) (string, error) {
	if err := dgst.Validate(); err != nil {
		return "", err
	}
	if dgst.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("unsupported digest algorithm %q in %s", dgst.Algorithm(), dgst)
	}
	return dgst.Encoded(), nil
}
