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
Package engine wires the per-ecosystem resolvers, registry clients, the
metadata cache and the download scheduler into a single entry point, and
defines the data model the external CLI/config collaborator exchanges
with it: PackageRef in, ResolvedPackage/Artifact/ConflictRecord/
FailureRecord out.
*/
package engine

import (
	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/platform"
	"github.com/offlinedeps/aggregator/resolve"
)

// PackageRef is what the caller asks for: an ecosystem-tagged package name
// with an optional version range expression and ecosystem-specific
// qualifiers.
type PackageRef struct {
	Kind        resolve.Kind
	Name        string
	VersionSpec string
	Extras      []string
	Classifier  string
	Channel     string
	Repository  string
}

// Checksum is an alias for artifact.Checksum, re-exported so callers
// outside this module tree only need to import engine for the top-level
// API.
type Checksum = artifact.Checksum

// Artifact is an alias for artifact.Artifact, re-exported for the same
// reason as Checksum above.
type Artifact = artifact.Artifact

// ResolvedPackage is what a resolver+selector pair emits for one node in
// the dependency graph.
type ResolvedPackage struct {
	Kind         resolve.Kind
	Name         string
	ExactVersion string
	Architecture string
	Classifier   string
	BuildString  string
	Artifact     *Artifact
	FilePath     string
}

// ConflictRule names the discipline that decided a ConflictRecord.
type ConflictRule string

const (
	NearestWins       ConflictRule = "nearest-wins"
	HighestCompatible ConflictRule = "highest-compatible"
	FirstDeclaration  ConflictRule = "first-declaration"
	UserOverride      ConflictRule = "user-override"
)

// ConflictRecord documents a package name for which more than one
// requirement was seen, and which rule and version the resolver settled
// on.
type ConflictRecord struct {
	PackageKey     resolve.PackageKey
	RequestedSpecs []string
	ChosenVersion  string
	Rule           ConflictRule
}

// FailureRecord documents a terminal failure for one requested or
// transitive package.
type FailureRecord struct {
	PackageKey resolve.PackageKey
	Kind       string // one of the engineerr.Kind values, carried as a string to avoid an import cycle with the error taxonomy's wrapped errors.
	Message    string
	Optional   bool
}

// UpgradeStrategy controls how a resolver treats already-satisfied
// requirements when multiple compatible versions exist.
type UpgradeStrategy byte

const (
	Pinned UpgradeStrategy = iota
	Eager
)

// Options configures a single resolve+acquire invocation.
type Options struct {
	MaxDepth        int
	IncludeDev      bool
	IncludeOptional bool
	InstallPeers    bool
	PreferBinary    bool
	AllowYanked     bool
	AllowPrerelease bool
	UpgradeStrategy UpgradeStrategy
	Concurrency     int
	OutputDir       string
	CacheDir        string
	CacheTTL        int64 // milliseconds
	ForceRefresh    bool
}

// DefaultOptions returns the engine's baseline Options.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    10,
		Concurrency: 6,
	}
}

// Target is an alias for platform.Target, re-exported so callers outside
// this module tree only need to import engine for the top-level API.
type Target = platform.Target

// Result is the outcome of a single engine.Resolve call.
type Result struct {
	Flat      []ResolvedPackage
	Graph     *resolve.Graph
	Conflicts []ConflictRecord
	Failures  []FailureRecord
}
