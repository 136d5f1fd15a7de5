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

package context

import (
	"context"
	"testing"
)

func TestGetValue(t *testing.T) {
	ctx := WithValue(context.Background(), MetricsKey, 42)
	v, err := GetValue[int](ctx, MetricsKey)
	if err != nil || v != 42 {
		t.Fatalf("GetValue = %v, %v", v, err)
	}
	if _, err := GetValue[string](ctx, MetricsKey); err == nil {
		t.Fatal("expected a type mismatch error")
	}
	if _, err := GetValue[int](context.Background(), MetricsKey); err == nil {
		t.Fatal("expected a missing key error")
	}
}
