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

package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := Newf(NotFound, "pypi", "flask", "no such release")
	wrapped := fmt.Errorf("fetching: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestWithTarget(t *testing.T) {
	base := Newf(ProtocolError, "npm", "left-pad", "bad tarball")
	withTarget := base.WithTarget("linux/amd64")

	assert.Equal(t, "linux/amd64", withTarget.Target)
	assert.Empty(t, base.Target, "WithTarget must not mutate the receiver")
}

func TestAsOptional(t *testing.T) {
	base := Newf(NoCompatibleArtifact, "conda", "numpy", "no matching subdir")
	optional := base.AsOptional()

	assert.True(t, optional.Optional)
	assert.False(t, base.Optional, "AsOptional must not mutate the receiver")
}

func TestAsOptionalNeverDowngradesCancelled(t *testing.T) {
	base := Newf(Cancelled, "maven", "org.example:lib", "context cancelled")
	assert.Same(t, base, base.AsOptional())
}

func TestErrorMessageIncludesTarget(t *testing.T) {
	err := Newf(VersionUnsatisfiable, "apk", "musl", "no EVR in range").WithTarget("alpine/x86_64")
	msg := err.Error()
	assert.Contains(t, msg, "apk")
	assert.Contains(t, msg, "musl")
	assert.Contains(t, msg, "alpine/x86_64")
}
