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
	"context"
	"fmt"
)

// defaultPythonMajor/Minor is the CPython version assumed for marker
// evaluation and wheel-tag generation when a Target does not pin one.
const (
	defaultPythonMajor = 3
	defaultPythonMinor = 12
)

type contextKey struct{}

// WithTarget attaches t to ctx, letting a single resolution's target reach
// ecosystem resolvers (e.g. the PyPI environment-marker evaluator) that are
// constructed once per Engine and whose resolve.Resolver.Resolve signature
// carries only a context, not a Target.
func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the Target attached by WithTarget, if any.
func FromContext(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(contextKey{}).(Target)
	return t, ok
}

// pythonVersion returns the (major, minor) pair to use for version-shaped
// marker variables, defaulting an unset Target to the newest CPython this
// engine assumes.
func (t Target) pythonVersion() (int, int) {
	major, minor := t.PythonMajor, t.PythonMinor
	if major == 0 {
		major, minor = defaultPythonMajor, defaultPythonMinor
	}
	return major, minor
}

func (t Target) osName() string {
	switch t.OS {
	case Windows:
		return "nt"
	case Linux, MacOS:
		return "posix"
	}
	return ""
}

func (t Target) sysPlatform() string {
	switch t.OS {
	case Linux:
		return "linux"
	case MacOS:
		return "darwin"
	case Windows:
		return "win32"
	}
	return ""
}

func (t Target) platformSystem() string {
	switch t.OS {
	case Linux:
		return "Linux"
	case MacOS:
		return "Darwin"
	case Windows:
		return "Windows"
	}
	return ""
}

// platformMachine returns the PEP 508 platform_machine value, which for
// macOS arm64 differs from the manylinux wheel-tag arch token ("arm64" vs
// "aarch64").
func (t Target) platformMachine() string {
	if t.OS == MacOS && t.Arch == ARM64 {
		return "arm64"
	}
	return t.Arch.String()
}

// MarkerVars returns the PEP 508 environment-variable values a resolver
// should evaluate dependency markers against for t: python_version,
// python_full_version, os_name, sys_platform, platform_system,
// platform_machine, platform_python_implementation, platform_release,
// platform_version, implementation_name and implementation_version. A zero
// Target still gets Linux/x86_64 and the newest assumed CPython, so a
// caller that forgets to set a Target gets a plausible default closure
// instead of a marker evaluator that rejects everything. platform_release
// and platform_version are DistroRelease, so they are empty unless it is
// set.
func (t Target) MarkerVars() map[string]string {
	major, minor := t.pythonVersion()
	pyVersion := fmt.Sprintf("%d.%d", major, minor)
	pyFullVersion := fmt.Sprintf("%d.%d.0", major, minor)

	if t.OS == UnknownOS {
		t.OS = Linux
	}
	if t.Arch == UnknownArch {
		t.Arch = AMD64
	}

	return map[string]string{
		"os_name":                        t.osName(),
		"sys_platform":                   t.sysPlatform(),
		"platform_machine":               t.platformMachine(),
		"platform_python_implementation": "CPython",
		"platform_release":               t.DistroRelease,
		"platform_system":                t.platformSystem(),
		"platform_version":               t.DistroRelease,
		"python_version":                 pyVersion,
		"python_full_version":            pyFullVersion,
		"implementation_name":            "cpython",
		"implementation_version":         pyFullVersion,
	}
}

// Signature returns a compact, order-independent key identifying t's
// marker-relevant fields, used to key a marker-evaluation cache shared
// across resolutions performed for different targets.
func (t Target) Signature() string {
	major, minor := t.pythonVersion()
	return fmt.Sprintf("%s/%s/py%d.%d/%s", t.OS, t.Arch, major, minor, t.Libc)
}
