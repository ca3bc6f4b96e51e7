// Copyright 2025 Google LLC
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

package platform

import (
	"strings"
	"testing"
)

func TestWheelTagsEndsWithUniversal(t *testing.T) {
	tgt := Target{OS: Linux, Arch: AMD64, PythonMajor: 3, PythonMinor: 11}
	tags := tgt.WheelTags()
	if len(tags) == 0 {
		t.Fatal("WheelTags() returned no tags")
	}
	if got, want := tags[len(tags)-1], "py3-none-any"; got != want {
		t.Errorf("last tag = %q, want %q", got, want)
	}
	if got, want := tags[0], "cp311-cp311-manylinux_2_35_x86_64"; got != want {
		t.Errorf("most specific tag = %q, want %q", got, want)
	}
}

func TestWheelTagsMusl(t *testing.T) {
	tgt := Target{OS: Linux, Arch: AMD64, PythonMajor: 3, PythonMinor: 12, Libc: "musl"}
	tags := tgt.WheelTags()
	for _, tag := range tags {
		if strings.Contains(tag, "manylinux") {
			t.Errorf("musl target produced a manylinux tag: %q", tag)
		}
	}
	found := false
	for _, tag := range tags {
		if strings.Contains(tag, "musllinux_1_2_x86_64") {
			found = true
		}
	}
	if !found {
		t.Error("musl target did not produce a musllinux_1_2 tag")
	}
}

func TestWheelTagsWindows(t *testing.T) {
	tgt := Target{OS: Windows, Arch: AMD64, PythonMajor: 3, PythonMinor: 10}
	tags := tgt.WheelTags()
	for _, tag := range tags[:len(tags)-1] {
		if !strings.Contains(tag, "win_amd64") {
			t.Errorf("windows tag missing win_amd64 platform component: %q", tag)
		}
	}
}

func TestParseWheelFilenameTagsExpandsCartesianProduct(t *testing.T) {
	tags := ParseWheelFilenameTags("pkg-1.0.0-py2.py3-none-any.whl")
	want := []string{"py2-none-any", "py3-none-any"}
	if len(tags) != len(want) {
		t.Fatalf("ParseWheelFilenameTags() = %v, want %v", tags, want)
	}
	for i, w := range want {
		if tags[i] != w {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], w)
		}
	}
}

func TestParseWheelFilenameTagsRejectsShortName(t *testing.T) {
	if got := ParseWheelFilenameTags("not-a-wheel.whl"); got != nil {
		t.Errorf("ParseWheelFilenameTags(malformed) = %v, want nil", got)
	}
}
