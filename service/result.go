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

package service

import (
	"errors"
	"fmt"
)

// Result is the outcome of one image of a batch.
type Result struct {
	Image string
	// Hash is the manifest hash the image resolved to, when it got that far.
	Hash string
	Tags []string
	// Uploaded and Skipped count store objects written and found present.
	Uploaded int
	Skipped  int
	// Missing is set when the image was skipped because it does not exist
	// in the source.
	Missing bool
	Err     error
}

// Results is the outcome of a batch. One failed image does not stop the
// others.
type Results []Result

// Failed returns the number of failed images.
func (r Results) Failed() int {
	n := 0
	for _, res := range r {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed images.
func (r Results) Err() error {
	var errs []error
	for _, res := range r {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Image, res.Err))
		}
	}
	return errors.Join(errs...)
}
