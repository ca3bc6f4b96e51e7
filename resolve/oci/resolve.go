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
Package oci implements the degenerate "resolver" for OCI image references.
An OCI image has no transitive dependency graph to resolve: the work is
selecting the right manifest from a manifest list and enumerating its
config and layer blobs, which this package represents as a single-node
Graph so it can flow through the same engine pipeline as every other
ecosystem.
*/
package oci

import (
	"context"
	"fmt"
	"time"

	"github.com/offlinedeps/aggregator/resolve"
)

// resolver implements resolve.Resolver for OCI image references.
type resolver struct {
	client resolve.Client
}

// NewResolver creates an OCI Resolver connected to the given client.
func NewResolver(client resolve.Client) resolve.Resolver {
	return &resolver{client: client}
}

// Resolve "resolves" an OCI reference: it has no dependencies, so the
// result graph contains exactly one node, the manifest selected for the
// caller's target platform by the registry client.
func (r *resolver) Resolve(ctx context.Context, vk resolve.VersionKey) (*resolve.Graph, error) {
	if vk.Kind != resolve.OCI {
		return nil, fmt.Errorf("expected %s system, got %s", resolve.OCI, vk.Kind)
	}
	start := time.Now()

	if _, err := r.client.Version(ctx, vk); err != nil {
		return nil, fmt.Errorf("manifest for %s: %w", vk, err)
	}

	g := &resolve.Graph{}
	g.AddNode(vk)
	g.Duration = time.Since(start)
	return g, nil
}
