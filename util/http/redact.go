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

package http

import (
	"errors"
	"net/url"
)

// RedactError redacts the HTTP query values of a URL error. Blob downloads
// are often redirected to pre-signed URLs whose query carries credentials.
func RedactError(err error) error {
	var urlErr *url.Error

	if err != nil && errors.As(err, &urlErr) {
		u, parseErr := url.Parse(urlErr.URL)
		if parseErr == nil {
			RedactURL(u)
			urlErr.URL = u.Redacted()
			return urlErr
		}
	}

	return err
}

// RedactURL replaces every HTTP query value of u.
func RedactURL(u *url.URL) {
	if u == nil {
		return
	}
	if query := u.Query(); len(query) > 0 {
		for k := range query {
			query.Set(k, "redacted")
		}
		u.RawQuery = query.Encode()
	}
}
