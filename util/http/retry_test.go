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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/awslabs/docker-to-squash/config"
)

const (
	blobURL = "https://bucket.s3.us-west-2.amazonaws.com/layers/3f1a9c0e"
	// mockQuery carries credentials the way pre-signed URLs do.
	mockQuery = "?username=admin&password=admin"
	// Encoding the query sorts it by key.
	redactedQuery = "?password=redacted&username=redacted"
)

type trackingBody struct {
	read, closed bool
}

func (b *trackingBody) Read([]byte) (int, error) {
	b.read = true
	return 0, io.EOF
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func response(t *testing.T, rawURL string) *http.Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Response{
		Body:    &trackingBody{},
		Request: &http.Request{Method: http.MethodGet, URL: u},
	}
}

func TestHandleHTTPError(t *testing.T) {
	refused := errors.New("connect: connection refused")
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want string
	}{
		{
			name: "nothing known",
			want: `unknown "unknown": giving up request after 3 attempt(s)`,
		},
		{
			name: "query in the request",
			resp: response(t, blobURL+mockQuery),
			err:  refused,
			want: `GET "` + blobURL + redactedQuery + `": giving up request after 3 attempt(s): connect: connection refused`,
		},
		{
			name: "query in the error",
			resp: response(t, blobURL),
			err:  &url.Error{Op: http.MethodGet, URL: blobURL + mockQuery, Err: refused},
			want: `GET "` + blobURL + `": giving up request after 3 attempt(s): GET "` + blobURL + redactedQuery + `": connect: connection refused`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := HandleHTTPError(tt.resp, tt.err, 3)
			if resp != nil {
				t.Fatalf("got a response %v", resp)
			}
			if err == nil || err.Error() != tt.want {
				t.Fatalf("got %v\nwant %s", err, tt.want)
			}
			if tt.resp != nil {
				body := tt.resp.Body.(*trackingBody)
				if !body.read || !body.closed {
					t.Fatalf("response body read %v, closed %v", body.read, body.closed)
				}
			}
		})
	}
}

func testClientConfig() config.RetryableHTTPClientConfig {
	cfg := config.DefaultRetryableHTTPClientConfig()
	cfg.MaxRetries = 3
	cfg.MinWaitMsec = 1
	cfg.MaxWaitMsec = 5
	return cfg
}

func TestRetryableClientRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "blob")
	}))
	defer srv.Close()

	resp, err := NewRetryableClient(testClientConfig()).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "blob" {
		t.Fatalf("got %d %q", resp.StatusCode, b)
	}
	if calls.Load() != 3 {
		t.Fatalf("server saw %d requests, want 3", calls.Load())
	}
}

func TestRetryableClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRetryableClient(testClientConfig()).Get(srv.URL + "/blob" + mockQuery)
	if err == nil {
		t.Fatal("expected the client to give up")
	}
	// net/http wraps the error with the request URL as it was given.
	if strings.Contains(RedactError(err).Error(), "admin") {
		t.Fatalf("error leaks query values: %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("server saw %d requests, want 4", calls.Load())
	}
}

func TestRedactError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "NonURLError",
			err:  errors.New("this error is not a URL error"),
			want: "this error is not a URL error",
		},
		{
			name: "ErrorWithNoHTTPQuery",
			err:  &url.Error{Op: "GET", URL: blobURL, Err: errors.New("connect: connection refused")},
			want: "GET \"" + blobURL + "\": connect: connection refused",
		},
		{
			name: "ErrorWithHTTPQuery",
			err:  &url.Error{Op: "GET", URL: blobURL + mockQuery, Err: errors.New("connect: connection refused")},
			want: "GET \"" + blobURL + redactedQuery + "\": connect: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactError(tt.err).Error(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
	if RedactError(nil) != nil {
		t.Fatal("expected nil for a nil error")
	}
}
