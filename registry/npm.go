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

package registry

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/resolve/version"
	"github.com/offlinedeps/aggregator/selector"
)

// NPMBaseURL is the default npm registry origin.
const NPMBaseURL = "https://registry.npmjs.org"

type npmPackument struct {
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]npmRelease  `json:"versions"`
	Time     map[string]time.Time   `json:"time"`
}

type npmRelease struct {
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	PeerDependenciesMeta map[string]struct {
		Optional bool `json:"optional"`
	} `json:"peerDependenciesMeta"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Dist                 npmDist            `json:"dist"`
}

type npmDist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}

// NPM implements resolve.Client against the public npm registry. A single
// packument GET returns every version, so Versions/Version/Requirements
// all share one cached fetch.
type NPM struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
}

// NewNPM creates an NPM registry client.
func NewNPM(http *HTTPClient, c *cache.Cache) *NPM {
	return &NPM{HTTP: http, Cache: c, BaseURL: NPMBaseURL}
}

// packumentURL percent-encodes only the '/' in a scoped package name,
// keeping the leading '@', as the npm registry requires.
func packumentURL(base, name string) string {
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(name[1:], "/", 2)
		if len(parts) == 2 {
			return base + "/@" + parts[0] + "%2f" + parts[1]
		}
	}
	return base + "/" + name
}

func (c *NPM) packument(ctx context.Context, name string) (*npmPackument, error) {
	key := "npm:packument:" + cache.NormalizeNPMName(name)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		resp, err := c.HTTP.GetMetadata(ctx, packumentURL(c.BaseURL, name))
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "npm", name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "npm", name, "package not found")
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "npm", name, "packument: %s", resp.Status)
		}
		var p npmPackument
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "npm", name, err)
		}
		return &p, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*npmPackument), nil
}

// Versions implements resolve.Client.
func (c *NPM) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	p, err := c.packument(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	var out []resolve.Version
	for ver := range p.Versions {
		v := resolve.Version{VersionKey: resolve.VersionKey{PackageKey: pk, VersionType: resolve.Concrete, Version: ver}}
		for tag, tagVer := range p.DistTags {
			if tagVer == ver {
				existing, _ := v.GetAttr(version.Tags)
				if existing != "" {
					existing += ","
				}
				v.SetAttr(version.Tags, existing+tag)
			}
		}
		out = append(out, v)
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *NPM) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	vs, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return resolve.Version{}, err
	}
	for _, v := range vs {
		if v.Version == vk.Version {
			return v, nil
		}
	}
	return resolve.Version{}, engineerr.Newf(engineerr.NotFound, "npm", vk.String(), "version not found")
}

// Requirements implements resolve.Client, surfacing dependencies,
// devDependencies, peerDependencies (with peerOptional noted) and
// optionalDependencies as distinctly typed edges for the resolver to gate
// on.
func (c *NPM) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	p, err := c.packument(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	rel, ok := p.Versions[vk.Version]
	if !ok {
		return nil, engineerr.Newf(engineerr.NotFound, "npm", vk.String(), "version not found")
	}
	var out []resolve.RequirementVersion
	add := func(deps map[string]string, attrs ...dep.AttrKey) {
		for name, spec := range deps {
			t := dep.NewType(attrs...)
			out = append(out, resolve.RequirementVersion{
				VersionKey: resolve.VersionKey{
					PackageKey:  resolve.PackageKey{Kind: resolve.NPM, Name: name},
					VersionType: resolve.Requirement,
					Version:     spec,
				},
				Type: t,
			})
		}
	}
	add(rel.Dependencies)
	add(rel.DevDependencies, dep.Dev)
	for name, spec := range rel.PeerDependencies {
		t := dep.NewType()
		if rel.PeerDependenciesMeta[name].Optional {
			t.AddAttr(dep.Opt, "")
		}
		t.AddAttr(dep.Scope, "peer")
		out = append(out, resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.NPM, Name: name},
				VersionType: resolve.Requirement,
				Version:     spec,
			},
			Type: t,
		})
	}
	add(rel.OptionalDependencies, dep.Opt)
	resolve.SortDependencies(out)
	return out, nil
}

// MatchingVersions implements resolve.Client.
func (c *NPM) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// Candidates returns the single tarball dist recorded for vk.Version; npm
// has no platform/interpreter variants to choose between.
func (c *NPM) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	p, err := c.packument(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	rel, ok := p.Versions[vk.Version]
	if !ok {
		return nil, engineerr.Newf(engineerr.NotFound, "npm", vk.String(), "version not found")
	}
	a := artifact.Artifact{
		URL:      rel.Dist.Tarball,
		Filename: p.Name + "-" + rel.Version + ".tgz",
	}
	if hexSum, algo, ok := decodeSSRI(rel.Dist.Integrity); ok {
		a.Checksum = artifact.Checksum{Algo: algo, Hex: hexSum}
		a.HasChecksum = true
	} else if rel.Dist.Shasum != "" {
		a.Checksum = artifact.Checksum{Algo: "sha1", Hex: rel.Dist.Shasum}
		a.HasChecksum = true
	}
	return []selector.Candidate{{Version: vk.Version, NotYanked: true, Artifact: a}}, nil
}

// decodeSSRI converts an SSRI integrity string ("sha512-base64...") into
// (hexDigest, algo, ok).
func decodeSSRI(integrity string) (hexDigest, algo string, ok bool) {
	algo, b64, found := strings.Cut(integrity, "-")
	if !found {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", "", false
	}
	return hex.EncodeToString(raw), algo, true
}

// FetchBlob streams the tarball at url.
func (c *NPM) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "npm", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

var _ resolve.Client = (*NPM)(nil)
