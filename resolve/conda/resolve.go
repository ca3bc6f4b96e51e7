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
Package conda implements a resolver for conda packages.

Conda dependencies are resolved with a breadth-first "nearest definition
wins" discipline modeled on Maven's, since conda's MatchSpec requirements
are, like Maven ranges, intersected rather than backtracked: a package
already fixed to a concrete build only accepts further requirements that
are compatible with it, and the BFS visits the shallowest occurrence of a
name first.
*/
package conda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/resolve/version"
	"github.com/offlinedeps/aggregator/semver"
)

// MaxDepth bounds the default BFS depth for conda resolution.
const MaxDepth = 10

// resolver implements resolve.Resolver for conda.
type resolver struct {
	client resolve.Client
}

// NewResolver creates a conda Resolver connected to the given client.
func NewResolver(client resolve.Client) resolve.Resolver {
	return &resolver{client: client}
}

type queued struct {
	vk    resolve.VersionKey
	depth int
	seq   int
}

var errVersionConflict = errors.New("conflicting conda requirement")

// Resolve performs a BFS resolution of a conda environment starting at vk.
func (r *resolver) Resolve(ctx context.Context, vk resolve.VersionKey) (*resolve.Graph, error) {
	if vk.Kind != resolve.Conda {
		return nil, fmt.Errorf("expected %s system, got %s", resolve.Conda, vk.Kind)
	}
	if vk.VersionType != resolve.Concrete {
		return nil, fmt.Errorf("expected %s version, got %s", resolve.Concrete, vk.VersionType)
	}

	start := time.Now()
	g := &resolve.Graph{}
	g.AddNode(vk)

	// resolved tracks, per package name, the concrete version chosen so
	// far plus the requirements that fed it; requirements accrue as the
	// BFS discovers more edges into the same package.
	type pending struct {
		nodeID       resolve.NodeID
		requirements []resolve.VersionKey
	}
	resolved := map[string]pending{vk.Name: {nodeID: 0}}
	hasNode := map[string]bool{vk.Name: true}
	nodeIDs := map[resolve.VersionKey]resolve.NodeID{vk: 0}

	queue := []queued{{vk: vk, depth: 0}}
	seq := 0
	visitedPath := map[string]bool{vk.Name: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= MaxDepth {
			continue
		}
		reqs, err := r.client.Requirements(ctx, cur.vk)
		if err != nil {
			if errors.Is(err, resolve.ErrNotFound) {
				continue
			}
			return nil, err
		}

		for _, d := range reqs {
			seq++
			name := d.Name

			p := resolved[name]
			p.requirements = append(p.requirements, d.VersionKey)

			if hasNode[name] {
				// Nearest-wins: verify the already-resolved concrete
				// version still satisfies this newly discovered spec;
				// if not, record a conflict but keep the incumbent, as
				// the shallower occurrence wins per the BFS discipline.
				concrete := g.Nodes[p.nodeID].Version
				if !matchSpec(d.Version, concrete.Version) {
					g.AddError(resolve.NodeID(nodeIDs[cur.vk]), d.VersionKey, fmt.Sprintf(
						"package %s already resolved to %s, incompatible with requirement %s", name, concrete.Version, d.Version))
				}
				resolved[name] = p
				if err := g.AddEdge(nodeIDs[cur.vk], p.nodeID, d.Version, d.Type); err != nil {
					return nil, err
				}
				continue
			}

			match, err := r.findMatch(ctx, resolve.PackageKey{Kind: resolve.Conda, Name: name}, p.requirements)
			if err != nil {
				g.AddError(nodeIDs[cur.vk], d.VersionKey, err.Error())
				continue
			}

			id := g.AddNode(match.VersionKey)
			nodeIDs[match.VersionKey] = id
			p.nodeID = id
			resolved[name] = p
			hasNode[name] = true
			dt := d.Type.Clone()
			dt.AddAttr(dep.Selector, "")
			if subdir, ok := match.GetAttr(version.CondaChannel); ok {
				dt.AddAttr(dep.CondaSubdir, subdir)
			}
			if err := g.AddEdge(nodeIDs[cur.vk], id, d.Version, dt); err != nil {
				return nil, err
			}
			if !visitedPath[name] {
				visitedPath[name] = true
				queue = append(queue, queued{vk: match.VersionKey, depth: cur.depth + 1, seq: seq})
			}
		}
	}
	g.Duration = time.Since(start)
	return g, nil
}

// findMatch returns the best concrete version satisfying every accumulated
// MatchSpec requirement for pk, preferring noarch over architecture
// specific builds, then the higher version, then higher build_number, then
// later upload time, as
// prescribed for the candidate selector's conda tie-breaking.
func (r *resolver) findMatch(ctx context.Context, pk resolve.PackageKey, reqs []resolve.VersionKey) (resolve.Version, error) {
	versions, err := r.client.Versions(ctx, pk)
	if err != nil {
		return resolve.Version{}, err
	}
	var candidates []resolve.Version
outer:
	for _, v := range versions {
		for _, req := range reqs {
			if !matchSpec(req.Version, v.Version) {
				continue outer
			}
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return resolve.Version{}, fmt.Errorf("%s: %w", pk, errVersionConflict)
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if condaBetter(c, best) {
			best = c
		}
	}
	return best, nil
}

// condaBetter reports whether a should be preferred over b under conda's
// noarch-first, version, build-number, then upload-time tie-break.
func condaBetter(a, b resolve.Version) bool {
	aNoarch, bNoarch := a.VersionKey.Kind == resolve.Conda && hasSubdir(a, "noarch"), hasSubdir(b, "noarch")
	if aNoarch != bNoarch {
		return aNoarch
	}
	av, _ := semver.PyPI.Parse(a.Version)
	bv, _ := semver.PyPI.Parse(b.Version)
	if av != nil && bv != nil {
		if c := av.Compare(bv); c != 0 {
			return c > 0
		}
	}
	an, _ := a.GetAttr(version.CondaBuildNumber)
	bn, _ := b.GetAttr(version.CondaBuildNumber)
	if an != bn {
		ai, aerr := strconv.Atoi(an)
		bi, berr := strconv.Atoi(bn)
		if aerr == nil && berr == nil {
			return ai > bi
		}
		return an > bn
	}
	aCreated, _ := a.GetAttr(version.Created)
	bCreated, _ := b.GetAttr(version.Created)
	return aCreated > bCreated
}

func hasSubdir(v resolve.Version, subdir string) bool {
	s, ok := v.GetAttr(version.CondaChannel)
	return ok && s == subdir
}

// matchSpec reports whether ver satisfies the conda MatchSpec constraint
// spec. Conda's public version grammar follows PEP 440, so constraints are
// evaluated with the same engine used for PyPI. A build-string pin after
// the version (e.g. "1.2.3=py310h_0") is split off, and ver then has to
// equal the version portion, or the whole "version=build" text, exactly;
// the build string itself is not compared with any build.
func matchSpec(spec, ver string) bool {
	versionPart, buildPart, hasBuild := splitBuildString(spec)
	if hasBuild {
		// A build pin is an exact match on the version portion or on
		// the combined version=build text.
		return ver == versionPart+"="+buildPart || ver == versionPart
	}
	c, err := semver.PyPI.ParseConstraint(versionPart)
	if err != nil {
		return ver == versionPart
	}
	return c.Match(ver)
}

func splitBuildString(spec string) (versionPart, buildPart string, ok bool) {
	// The last '=' introduces the build string unless it is part of an
	// operator ("==", ">=", "<=", "!=", "~=") or opens a clause.
	i := strings.LastIndexByte(spec, '=')
	if i <= 0 || i == len(spec)-1 || strings.IndexByte("=<>!~, |", spec[i-1]) >= 0 {
		return spec, "", false
	}
	return spec[:i], spec[i+1:], true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
