// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kv

import "testing"

func TestJoin(t *testing.T) {
	if got, want := Join("proxy", "rules", "abc"), "proxy:rules:abc"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got, want := Join("solo"), "solo"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
