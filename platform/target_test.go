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

import "testing"

func TestCondaSubdir(t *testing.T) {
	cases := []struct {
		t    Target
		want string
	}{
		{Target{OS: Linux, Arch: AMD64}, "linux-64"},
		{Target{OS: Linux, Arch: ARM64}, "linux-aarch64"},
		{Target{OS: MacOS, Arch: ARM64}, "osx-arm64"},
		{Target{OS: Windows, Arch: AMD64}, "win-64"},
		{Target{OS: Windows, Arch: ARM64}, ""},
	}
	for _, c := range cases {
		if got := c.t.CondaSubdir(); got != c.want {
			t.Errorf("CondaSubdir(%v) = %q, want %q", c.t, got, c.want)
		}
	}
}

func TestDockerArchAndOS(t *testing.T) {
	tgt := Target{OS: Linux, Arch: ARMv7}
	if got, want := tgt.DockerArch(), "arm/v7"; got != want {
		t.Errorf("DockerArch() = %q, want %q", got, want)
	}
	if got, want := tgt.DockerOS(), "linux"; got != want {
		t.Errorf("DockerOS() = %q, want %q", got, want)
	}
}

func TestRepoArch(t *testing.T) {
	tgt := Target{OS: Linux, Arch: ARM64}
	cases := map[string]string{
		"yum": "aarch64",
		"apt": "arm64",
		"apk": "aarch64",
	}
	for kind, want := range cases {
		if got := tgt.RepoArch(kind); got != want {
			t.Errorf("RepoArch(%q) = %q, want %q", kind, got, want)
		}
	}
}

func TestArchEquivalent(t *testing.T) {
	tgt := Target{OS: Linux, Arch: AMD64}
	for _, universal := range []string{"noarch", "all", "any", ""} {
		if !tgt.ArchEquivalent(universal) {
			t.Errorf("ArchEquivalent(%q) = false, want true", universal)
		}
	}
	if !tgt.ArchEquivalent("x86_64") {
		t.Error("ArchEquivalent(x86_64) = false on an amd64 target, want true")
	}
	if tgt.ArchEquivalent("aarch64") {
		t.Error("ArchEquivalent(aarch64) = true on an amd64 target, want false")
	}
}
