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

/*
Package platform produces, for a given TargetDescriptor, the ordered
acceptance tokens each ecosystem's candidate selector matches artifacts
against. The leftmost match in the returned list always wins, so every
generator here is responsible for ordering richest-to-poorest.
*/
package platform

import "fmt"

// OS nominates a target operating system family.
type OS byte

const (
	UnknownOS OS = iota
	Linux
	MacOS
	Windows
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case MacOS:
		return "macos"
	case Windows:
		return "windows"
	}
	return "unknown"
}

// Arch nominates a target CPU architecture.
type Arch byte

const (
	UnknownArch Arch = iota
	AMD64
	ARM64
	ARMv7
	I386
)

func (a Arch) String() string {
	switch a {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case ARMv7:
		return "armv7"
	case I386:
		return "i386"
	}
	return "unknown"
}

// Target describes the platform a resolution is performed for: the
// engine's TargetDescriptor.
type Target struct {
	OS   OS
	Arch Arch

	// PythonMajor/PythonMinor select the CPython interpreter version for
	// PyPI wheel tag generation.
	PythonMajor, PythonMinor int

	// Libc distinguishes glibc from musl for manylinux vs musllinux wheel
	// selection; empty defaults to glibc on Linux.
	Libc string

	// GlibcMajor/GlibcMinor cap the manylinux tags considered compatible;
	// zero defaults to the newest supported pair (2.35).
	GlibcMajor, GlibcMinor int

	// DistroCodename/DistroComponent/DistroRelease parameterize the APT
	// and YUM repo URL templates ($basearch, $releasever, {codename},
	// {component}).
	DistroCodename, DistroComponent, DistroRelease string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s (py%d.%d)", t.OS, t.Arch, t.PythonMajor, t.PythonMinor)
}

// CondaSubdir returns the conda platform subdirectory for t, per the
// {os,arch}→subdir map; the empty string indicates no mapping exists,
// which the engine treats as a ConfigError.
func (t Target) CondaSubdir() string {
	switch {
	case t.OS == Linux && t.Arch == AMD64:
		return "linux-64"
	case t.OS == Linux && t.Arch == ARM64:
		return "linux-aarch64"
	case t.OS == MacOS && t.Arch == AMD64:
		return "osx-64"
	case t.OS == MacOS && t.Arch == ARM64:
		return "osx-arm64"
	case t.OS == Windows && t.Arch == AMD64:
		return "win-64"
	}
	return ""
}

// DockerArch returns the OCI/Docker architecture token used to select a
// manifest list entry, e.g. "amd64", "arm64", "arm/v7", "386".
func (t Target) DockerArch() string {
	switch t.Arch {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	case ARMv7:
		return "arm/v7"
	case I386:
		return "386"
	}
	return ""
}

// DockerOS returns the OCI/Docker OS token used to select a manifest list
// entry, e.g. "linux", "windows".
func (t Target) DockerOS() string {
	switch t.OS {
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	case MacOS:
		// OCI images are not published for macOS; callers should not
		// reach this for OCI targets.
		return "darwin"
	}
	return ""
}

// basearch returns the rpm $basearch token for t's architecture.
func (t Target) basearch() string {
	switch t.Arch {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case ARMv7:
		return "armhfp"
	case I386:
		return "i386"
	}
	return ""
}

// debArch returns the deb $arch token for t's architecture.
func (t Target) debArch() string {
	switch t.Arch {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	case ARMv7:
		return "armhf"
	case I386:
		return "i386"
	}
	return ""
}

// apkArch returns the apk architecture token for t's architecture.
func (t Target) apkArch() string {
	switch t.Arch {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case ARMv7:
		return "armv7"
	case I386:
		return "x86"
	}
	return ""
}

// RepoArch returns the per-ecosystem architecture token used to expand a
// repository URL template's $basearch/$arch placeholder.
func (t Target) RepoArch(kind string) string {
	switch kind {
	case "yum":
		return t.basearch()
	case "apt":
		return t.debArch()
	case "apk":
		return t.apkArch()
	}
	return ""
}

// ArchEquivalent reports whether a package declared for pkgArch is
// installable on t, honoring the noarch/all/any universal tokens used by
// YUM, APT and APK respectively.
func (t Target) ArchEquivalent(pkgArch string) bool {
	switch pkgArch {
	case "noarch", "all", "any", "":
		return true
	}
	return pkgArch == t.RepoArch("yum") || pkgArch == t.RepoArch("apt") || pkgArch == t.RepoArch("apk")
}
