// Copyright 2023 Google LLC
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

import "fmt"

// defaultGlibcMajor/Minor is the newest glibc version manylinux tags are
// generated down from when the target does not pin one explicitly.
const (
	defaultGlibcMajor = 2
	defaultGlibcMinor = 35

	minGlibcMinor = 5 // manylinux_2_5 is the oldest glibc tag considered.
)

// WheelTags returns the ordered list of PEP 425 (name, abi, platform) tags
// the candidate selector matches wheel filenames against for t. The
// leftmost tag is the most specific; a wheel's priority is the index of
// its best (lowest-index) matching expanded filename tag.
func (t Target) WheelTags() []string {
	var tags []string
	plats := t.platformTags()
	mn := t.PythonMinor

	// 1. Interpreter-exact CPython tags, richest platform first.
	for _, p := range plats {
		tags = append(tags, fmt.Sprintf("cp%d%d-cp%d%d-%s", t.PythonMajor, mn, t.PythonMajor, mn, p))
	}

	// 2. Stable-ABI cp{MN}-abi3-{plat}, descending minor from current down to 2.
	for m := mn; m >= 2; m-- {
		for _, p := range plats {
			tags = append(tags, fmt.Sprintf("cp%d%d-abi3-%s", t.PythonMajor, m, p))
		}
	}

	// 3. cp{MN}-none-{plat}.
	for _, p := range plats {
		tags = append(tags, fmt.Sprintf("cp%d%d-none-%s", t.PythonMajor, mn, p))
	}

	// 4. Generic py{MN}-none-{plat} then py{M}-none-{plat}.
	for _, p := range plats {
		tags = append(tags, fmt.Sprintf("py%d%d-none-%s", t.PythonMajor, mn, p))
	}
	for _, p := range plats {
		tags = append(tags, fmt.Sprintf("py%d-none-%s", t.PythonMajor, p))
	}

	// 5. Universal.
	tags = append(tags, "py3-none-any")

	return tags
}

// platformTags returns the ordered platform component of a wheel tag for
// t's OS, newest/most-specific first.
func (t Target) platformTags() []string {
	arch := t.platformArchToken()
	switch t.OS {
	case Linux:
		return t.linuxPlatformTags(arch)
	case MacOS:
		return t.macosPlatformTags(arch)
	case Windows:
		return t.windowsPlatformTags()
	}
	return nil
}

func (t Target) platformArchToken() string {
	switch t.Arch {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case ARMv7:
		return "armv7l"
	case I386:
		return "i686"
	}
	return ""
}

func (t Target) linuxPlatformTags(arch string) []string {
	var tags []string

	major, minor := t.GlibcMajor, t.GlibcMinor
	if major == 0 {
		major, minor = defaultGlibcMajor, defaultGlibcMinor
	}

	if t.Libc != "musl" {
		// manylinux_{major}_{minor}_{arch}, newest first (2.35 down to 2.5).
		for m := minor; m >= minGlibcMinor; m-- {
			tags = append(tags, fmt.Sprintf("manylinux_%d_%d_%s", major, m, arch))
		}
		// Legacy aliases, newest first.
		if arch == "x86_64" || arch == "i686" {
			tags = append(tags, "manylinux2014_"+arch)
			tags = append(tags, "manylinux2010_"+arch)
			tags = append(tags, "manylinux1_"+arch)
		} else {
			tags = append(tags, "manylinux2014_"+arch)
		}
	}

	// musllinux tags, newest first: 1.2, then 1.1.
	tags = append(tags, fmt.Sprintf("musllinux_1_2_%s", arch))
	tags = append(tags, fmt.Sprintf("musllinux_1_1_%s", arch))

	tags = append(tags, "linux_"+arch)
	return tags
}

func (t Target) macosPlatformTags(arch string) []string {
	var tags []string
	darwinArch := arch
	switch t.Arch {
	case AMD64:
		darwinArch = "x86_64"
	case ARM64:
		darwinArch = "arm64"
	}
	// Newest macOS versions first; macOS wheel tags are major_minor pairs
	// from 14 (Sonoma) down to 10.9, plus universal2/intel aliases.
	for major := 14; major >= 11; major-- {
		tags = append(tags, fmt.Sprintf("macosx_%d_0_%s", major, darwinArch))
	}
	for minor := 16; minor >= 9; minor-- {
		tags = append(tags, fmt.Sprintf("macosx_10_%d_%s", minor, darwinArch))
	}
	if t.Arch == ARM64 || t.Arch == AMD64 {
		for major := 14; major >= 11; major-- {
			tags = append(tags, fmt.Sprintf("macosx_%d_0_universal2", major))
		}
		for minor := 16; minor >= 9; minor-- {
			tags = append(tags, fmt.Sprintf("macosx_10_%d_universal2", minor))
			tags = append(tags, fmt.Sprintf("macosx_10_%d_intel", minor))
		}
	}
	return tags
}

func (t Target) windowsPlatformTags() []string {
	switch t.Arch {
	case AMD64:
		return []string{"win_amd64"}
	case ARM64:
		return []string{"win_arm64"}
	case I386:
		return []string{"win32"}
	}
	return nil
}
