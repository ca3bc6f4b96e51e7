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
Package distro implements a shared closed-BFS resolver usable by the YUM,
APT and APK ecosystems. All three build a name→best-version index once per
(repo, arch) and then walk a dependency closure breadth-first; what differs
between them is version comparison and virtual-provider syntax, which this
package takes as a pluggable Comparator.
*/
package distro

import (
	"context"
	"fmt"
	"time"

	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
)

// MaxDepth bounds the closure walk, per the 5-level default for OS packages.
const MaxDepth = 5

// Comparator knows how to compare version strings and match a constraint
// expression for one OS-package ecosystem (rpm's [>=,<=,=,<,>], or deb's
// [>=,<=,=,<<,>>]).
type Comparator interface {
	// Satisfies reports whether candidate satisfies the constraint
	// expression constraint (e.g. ">= 1.2.3").
	Satisfies(candidate, constraint string) bool
}

// resolver implements resolve.Resolver for a single OS-package ecosystem.
type resolver struct {
	client resolve.Client
	cmp    Comparator
	kind   resolve.Kind
}

// NewResolver creates a distro Resolver for the given ecosystem Kind (one of
// resolve.YUM, resolve.APT, resolve.APK), using cmp for version comparison.
func NewResolver(kind resolve.Kind, client resolve.Client, cmp Comparator) resolve.Resolver {
	return &resolver{client: client, cmp: cmp, kind: kind}
}

type frame struct {
	vk    resolve.VersionKey
	depth int
}

// Resolve performs a closed BFS over Requires/Depends/depend fields,
// resolving virtual providers by scanning for any package that satisfies
// the named capability. Recommended/Suggests dependencies are never
// traversed; this package only sees hard dependency edges because the
// registry clients (§4.2) do not surface weak dependency fields unless
// explicitly requested upstream of this resolver.
func (r *resolver) Resolve(ctx context.Context, vk resolve.VersionKey) (*resolve.Graph, error) {
	if vk.Kind != r.kind {
		return nil, fmt.Errorf("expected %s system, got %s", r.kind, vk.Kind)
	}
	if vk.VersionType != resolve.Concrete {
		return nil, fmt.Errorf("expected %s version, got %s", resolve.Concrete, vk.VersionType)
	}

	start := time.Now()
	g := &resolve.Graph{}
	g.AddNode(vk)

	nodeIDs := map[string]resolve.NodeID{vk.Name: 0}
	visited := map[string]bool{vk.Name: true}
	queue := []frame{{vk: vk, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curID := nodeIDs[cur.vk.Name]

		if cur.depth >= MaxDepth {
			continue
		}

		reqs, err := r.client.Requirements(ctx, cur.vk)
		if err != nil {
			return nil, fmt.Errorf("requirements for %s: %w", cur.vk, err)
		}

		for _, d := range reqs {
			optional := d.Type.HasAttr(dep.Opt)

			match, err := r.findProvider(ctx, d)
			if err != nil {
				if optional {
					g.AddError(curID, d.VersionKey, "optional dependency not satisfied: "+err.Error())
					continue
				}
				g.AddError(curID, d.VersionKey, err.Error())
				continue
			}

			if id, ok := nodeIDs[match.Name]; ok {
				if err := g.AddEdge(curID, id, d.Version, d.Type); err != nil {
					return nil, err
				}
				continue
			}

			id := g.AddNode(match.VersionKey)
			nodeIDs[match.Name] = id
			dt := d.Type.Clone()
			dt.AddAttr(dep.Selector, "")
			if err := g.AddEdge(curID, id, d.Version, dt); err != nil {
				return nil, err
			}
			if !visited[match.Name] {
				visited[match.Name] = true
				queue = append(queue, frame{vk: match.VersionKey, depth: cur.depth + 1})
			}
		}
	}
	g.Duration = time.Since(start)
	return g, nil
}

// findProvider finds a concrete version for d: the best version the client
// lists under d's name that satisfies d's constraint or, failing that, the
// first version listed under that name, without checking the constraint.
// Registry clients list packages that provide d's name among that name's
// versions, so either step can return a provider.
func (r *resolver) findProvider(ctx context.Context, d resolve.RequirementVersion) (resolve.Version, error) {
	pk := resolve.PackageKey{Kind: r.kind, Name: d.Name}
	if v, err := r.bestMatching(ctx, pk, d.Version); err == nil {
		return v, nil
	}

	// Fall back to any listed version or provider, whatever its version.
	versions, err := r.client.Versions(ctx, pk)
	if err == nil {
		for _, v := range versions {
			return v, nil
		}
	}
	return resolve.Version{}, fmt.Errorf("no package or provider satisfies %s %s", d.Name, d.Version)
}

func (r *resolver) bestMatching(ctx context.Context, pk resolve.PackageKey, constraint string) (resolve.Version, error) {
	versions, err := r.client.Versions(ctx, pk)
	if err != nil {
		return resolve.Version{}, err
	}
	var best *resolve.Version
	for i, v := range versions {
		if constraint != "" && !r.cmp.Satisfies(v.Version, constraint) {
			continue
		}
		if best == nil || r.cmp.Satisfies(v.Version, ">= "+best.Version) {
			best = &versions[i]
		}
	}
	if best == nil {
		return resolve.Version{}, fmt.Errorf("%s: no version satisfies %q", pk, constraint)
	}
	return *best, nil
}
