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
Package selector implements the Candidate Selector: given the set of
Candidate artifacts a registry client surfaced for a resolved
(name, exactVersion) and the ordered tag list platform produced, pick the
one Artifact to download.
*/
package selector

import (
	"sort"
	"strings"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/engineerr"
)

// Candidate is a single artifact as surfaced by a registry client, before
// the selector has decided which one to use.
type Candidate struct {
	Artifact artifact.Artifact

	// Tags are the filename-derived compatibility tags this candidate
	// satisfies (e.g. a wheel's expanded (python, abi, platform)
	// triples, or a conda build's subdir).
	Tags []string

	IsWheel    bool
	NotYanked  bool
	Version    string
	Subdir     string
	BuildNum   int
	UploadTime int64
}

// NoCompatibleArtifact is returned when no candidate matches the target
// tag list; it carries enough detail for engineerr.Newf's caller to
// build the full error report.
type NoCompatibleArtifact struct {
	Name       string
	Version    string
	Candidates []Candidate
	Tags       []string
}

func (e *NoCompatibleArtifact) Error() string {
	return "no compatible artifact for " + e.Name + "@" + e.Version
}

// tagPriority returns the index of the best (lowest-index) tag from tags
// that appears in target, or -1 if none match.
func tagPriority(tags, target []string) int {
	best := -1
	for _, t := range tags {
		for i, want := range target {
			if t == want && (best == -1 || i < best) {
				best = i
			}
		}
	}
	return best
}

// SelectPyPI implements the PyPI selection order: hashAllowed desc,
// notYanked desc, isWheel desc, tagPriority asc, buildNumber desc. A wheel
// whose best tag has no match is excluded; if no wheel qualifies the sdist
// is the fallback. The first sdist always joins the pool, so a qualifying
// wheel outranks it whenever the two tie on checksum presence and yanked
// status, since building from source needs a toolchain this aggregator
// never invokes;
// preferBinary is accepted for call-site symmetry with the other
// ecosystem selectors but has no effect here.
func SelectPyPI(name, version string, candidates []Candidate, tags []string, preferBinary bool) (Candidate, error) {
	type scored struct {
		c        Candidate
		isWheel  bool
		priority int
	}
	var pool []scored

	for i := range candidates {
		c := candidates[i]
		if !c.IsWheel {
			continue
		}
		p := tagPriority(c.Tags, tags)
		if p == -1 {
			continue
		}
		pool = append(pool, scored{c: c, isWheel: true, priority: p})
	}
	for i := range candidates {
		c := candidates[i]
		if c.IsWheel {
			continue
		}
		pool = append(pool, scored{c: c, isWheel: false})
		break
	}

	if len(pool) == 0 {
		return Candidate{}, &NoCompatibleArtifact{Name: name, Version: version, Candidates: candidates, Tags: tags}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.c.Artifact.HasChecksum != b.c.Artifact.HasChecksum {
			return a.c.Artifact.HasChecksum
		}
		if a.c.NotYanked != b.c.NotYanked {
			return a.c.NotYanked
		}
		if a.isWheel != b.isWheel {
			return a.isWheel
		}
		if !a.isWheel {
			return false
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.c.BuildNum > b.c.BuildNum
	})
	return pool[0].c, nil
}

// SelectConda filters by (name, version, subdir ∈ {targetSubdir, noarch}),
// then by interpreter tag if set, preferring noarch, then highest
// build_number, then latest upload_time.
func SelectConda(name, version string, candidates []Candidate, targetSubdir, pyTag string) (Candidate, error) {
	var matching []Candidate
	for _, c := range candidates {
		if c.Subdir != targetSubdir && c.Subdir != "noarch" {
			continue
		}
		if pyTag != "" && !containsBuildTag(c.Tags, pyTag) {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return Candidate{}, &NoCompatibleArtifact{Name: name, Version: version, Candidates: candidates}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		a, b := matching[i], matching[j]
		if (a.Subdir == "noarch") != (b.Subdir == "noarch") {
			return a.Subdir == "noarch"
		}
		if a.BuildNum != b.BuildNum {
			return a.BuildNum > b.BuildNum
		}
		return a.UploadTime > b.UploadTime
	})
	return matching[0], nil
}

func containsBuildTag(tags []string, pyTag string) bool {
	for _, t := range tags {
		if strings.Contains(t, pyTag) {
			return true
		}
	}
	return false
}

// SelectNPM returns the packument's single dist artifact; there is never a
// choice to make, only a checksum scheme to prefer (SSRI sha512 over
// shasum sha1).
func SelectNPM(name, version string, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, &NoCompatibleArtifact{Name: name, Version: version}
	}
	return candidates[0], nil
}

// SelectMaven returns the primary artifact declared by the POM; a BOM
// (packaging pom + scope import) is metadata-only and never reaches the
// selector as a Candidate to begin with.
func SelectMaven(name, version string, candidates []Candidate, classifier string) (Candidate, error) {
	for _, c := range candidates {
		if classifier == "" || strings.Contains(c.Artifact.Filename, "-"+classifier+".") {
			return c, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return Candidate{}, &NoCompatibleArtifact{Name: name, Version: version}
}

// SelectDistro returns the one artifact a YUM/APT/APK primary record
// carries for the resolved package, filtered to the caller's architecture
// equivalence class.
func SelectDistro(name, version string, candidates []Candidate, arch string) (Candidate, error) {
	for _, c := range candidates {
		if arch == "" || c.Subdir == arch || c.Subdir == "noarch" {
			return c, nil
		}
	}
	return Candidate{}, &NoCompatibleArtifact{Name: name, Version: version, Candidates: candidates}
}

// SelectOCI returns the manifest list entry matching the target's
// (os, arch) pair, which the OCI registry client has already filtered
// down to Candidates so this is just a presence check.
func SelectOCI(name, reference string, candidates []Candidate, dockerOS, dockerArch string) (Candidate, error) {
	want := dockerOS + "/" + dockerArch
	for _, c := range candidates {
		if c.Subdir == want {
			return c, nil
		}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return Candidate{}, &NoCompatibleArtifact{Name: name, Version: reference, Candidates: candidates, Tags: []string{want}}
}

// ToEngineError converts a NoCompatibleArtifact into the engine's error
// taxonomy, which the resolver propagates as a hard failure for the
// originating PackageRef unless it is marked optional.
func ToEngineError(ecosystem string, err *NoCompatibleArtifact) *engineerr.Error {
	return engineerr.Newf(engineerr.NoCompatibleArtifact, ecosystem, err.Name+"@"+err.Version,
		"no candidate matched tags %v among %d inspected candidates", err.Tags, len(err.Candidates))
}
