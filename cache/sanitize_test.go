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

package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilenameReplacesReservedChars(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename("a:b/c"))
}

func TestSanitizeFilenameStripsTrailingDotsAndSpaces(t *testing.T) {
	assert.Equal(t, "pkg", SanitizeFilename("pkg. "))
}

func TestSanitizeFilenamePreservesExtension(t *testing.T) {
	long := strings.Repeat("a", maxSanitizedLength+50) + ".whl"
	out := SanitizeFilename(long)
	assert.True(t, strings.HasSuffix(out, ".whl"))
	assert.LessOrEqual(t, len(out), maxSanitizedLength+len(".whl"))
}

func TestSanitizeFilenamePrefixesReservedDeviceNames(t *testing.T) {
	assert.Equal(t, "_CON", SanitizeFilename("CON"))
	assert.Equal(t, "_NUL.txt", SanitizeFilename("NUL.txt"))
}

func TestLongPathSafe(t *testing.T) {
	short := "C:\\pkgs\\flask.whl"
	assert.Equal(t, short, LongPathSafe(short))

	long := `C:\` + strings.Repeat("a", 300)
	assert.True(t, strings.HasPrefix(LongPathSafe(long), `\\?\`))
}

func TestArtifactFilename(t *testing.T) {
	assert.Equal(t, "httpd-2.4.58.x86_64.rpm", ArtifactFilename("yum", "httpd", "2.4.58", "x86_64", "", ""))
	assert.Equal(t, "nginx_1.25.3_amd64.deb", ArtifactFilename("apt", "nginx", "1.25.3", "amd64", "", ""))
	assert.Equal(t, "lib-1.0.0-sources.jar", ArtifactFilename("maven", "lib", "1.0.0", "", "sources", ""))
	assert.Equal(t, "lib-1.0.0.jar", ArtifactFilename("maven", "lib", "1.0.0", "", "", ""))
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, "/cache/pypi/flask/1.0.0.json", CachePath("/cache", "pypi", "flask", "1.0.0"))
}
