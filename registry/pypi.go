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
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/platform"
	"github.com/offlinedeps/aggregator/pypimeta"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/resolve/version"
	"github.com/offlinedeps/aggregator/selector"
)

// PyPIBaseURL is the default PyPI index origin.
const PyPIBaseURL = "https://pypi.org"

// PyPI implements resolve.Client against the public PyPI Simple Index
// (PEP 503/691) for version listings and the JSON API for per-version
// metadata, preferring the Simple Index since its payload is roughly an
// order of magnitude smaller.
type PyPI struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
}

// NewPyPI creates a PyPI registry client.
func NewPyPI(http *HTTPClient, c *cache.Cache) *PyPI {
	return &PyPI{HTTP: http, Cache: c, BaseURL: PyPIBaseURL}
}

type simpleIndexProject struct {
	Name     string `json:"name"`
	Files    []simpleIndexFile `json:"files"`
	Versions []string          `json:"versions"`
}

type simpleIndexFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	Size           int64             `json:"size"`
	Yanked         bool              `json:"yanked"`
}

func (c *PyPI) simpleIndex(ctx context.Context, name string) (*simpleIndexProject, error) {
	key := "pypi:simple:" + cache.NormalizePyPIName(name)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		u := c.BaseURL + path.Join("/simple/", cache.NormalizePyPIName(name)) + "/"
		resp, err := c.HTTP.GetMetadata(ctx, u)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "pypi", name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "pypi", name, "project not found")
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "pypi", name, "simple index: %s", resp.Status)
		}
		var p simpleIndexProject
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "pypi", name, err)
		}
		for i, f := range p.Files {
			p.Files[i].RequiresPython = html.UnescapeString(f.RequiresPython)
		}
		return &p, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*simpleIndexProject), nil
}

// Versions implements resolve.Client.
func (c *PyPI) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	idx, err := c.simpleIndex(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []resolve.Version
	for _, ver := range idx.Versions {
		if seen[ver] {
			continue
		}
		seen[ver] = true
		out = append(out, resolve.Version{VersionKey: resolve.VersionKey{
			PackageKey:  pk,
			VersionType: resolve.Concrete,
			Version:     ver,
		}})
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client by fetching the JSON API document for
// a concrete (name, version).
func (c *PyPI) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	key := fmt.Sprintf("pypi:release:%s:%s", cache.NormalizePyPIName(vk.Name), vk.Version)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		u := fmt.Sprintf("%s/pypi/%s/%s/json", c.BaseURL, url.PathEscape(vk.Name), url.PathEscape(vk.Version))
		resp, err := c.HTTP.GetMetadata(ctx, u)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "pypi", vk.String(), err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "pypi", vk.String(), "release not found")
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "pypi", vk.String(), "release api: %s", resp.Status)
		}
		var raw map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "pypi", vk.String(), err)
		}
		return raw, cache.TTLIndefinite, nil
	})
	if err != nil {
		return resolve.Version{}, err
	}
	out := resolve.Version{VersionKey: vk}
	if raw, ok := v.(map[string]any)["info"].(map[string]any); ok {
		if yanked, _ := raw["yanked"].(bool); yanked {
			out.SetAttr(version.Blocked, "")
		}
	}
	return out, nil
}

// Requirements reads info.requires_dist from the JSON API document that
// Version stored in the cache and parses each entry with
// pypimeta.ParseDependency, skipping entries that do not parse. It fails
// if Version has not been called for vk first, and returns no
// requirements when the document has no info object.
func (c *PyPI) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	key := fmt.Sprintf("pypi:release:%s:%s", cache.NormalizePyPIName(vk.Name), vk.Version)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		return nil, 0, errors.New("requirements requested before Version warmed the cache")
	})
	if err != nil {
		return nil, err
	}
	raw, ok := v.(map[string]any)["info"].(map[string]any)
	if !ok {
		return nil, nil
	}
	reqs, _ := raw["requires_dist"].([]any)
	var out []resolve.RequirementVersion
	for _, r := range reqs {
		s, ok := r.(string)
		if !ok {
			continue
		}
		d, err := pypimeta.ParseDependency(s)
		if err != nil {
			continue
		}
		rv := resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.PyPI, Name: d.Name},
				VersionType: resolve.Requirement,
				Version:     d.Constraint,
			},
			Type: dep.NewType(),
		}
		if d.Environment != "" {
			rv.Type.AddAttr(dep.Environment, d.Environment)
		}
		out = append(out, rv)
	}
	return out, nil
}

// MatchingVersions implements resolve.Client.
func (c *PyPI) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// FetchBlob streams the artifact at url; the caller is responsible for
// closing the returned reader.
func (c *PyPI) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "pypi", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

// Candidates returns one selector.Candidate per file the Simple Index
// lists for vk.Version, expanding each wheel's filename tag segment into
// its full compatibility set.
func (c *PyPI) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	idx, err := c.simpleIndex(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	prefix := idx.Name + "-" + vk.Version
	var out []selector.Candidate
	for _, f := range idx.Files {
		if !strings.HasPrefix(f.Filename, prefix+"-") && !strings.HasPrefix(f.Filename, prefix+".") {
			continue
		}
		isWheel := strings.HasSuffix(f.Filename, ".whl")
		cand := selector.Candidate{
			Version:   vk.Version,
			IsWheel:   isWheel,
			NotYanked: !f.Yanked,
			Artifact: artifact.Artifact{
				URL:            f.URL,
				Filename:       f.Filename,
				SizeBytes:      f.Size,
				RequiresPython: f.RequiresPython,
			},
		}
		if sha256, ok := f.Hashes["sha256"]; ok {
			cand.Artifact.Checksum = artifact.Checksum{Algo: "sha256", Hex: sha256}
			cand.Artifact.HasChecksum = true
		} else if hex, ok := ParseSHA256Fragment(f.URL); ok {
			cand.Artifact.Checksum = artifact.Checksum{Algo: "sha256", Hex: hex}
			cand.Artifact.HasChecksum = true
		}
		if isWheel {
			cand.Tags = platform.ParseWheelFilenameTags(f.Filename)
		}
		out = append(out, cand)
	}
	return out, nil
}

// ParseSHA256Fragment extracts a `#sha256=...` checksum fragment from a
// PyPI file URL, as the Simple Index encodes digests this way rather
// than as a separate field for legacy (HTML) responses.
func ParseSHA256Fragment(rawURL string) (hex string, ok bool) {
	if i := strings.Index(rawURL, "#sha256="); i >= 0 {
		return rawURL[i+len("#sha256="):], true
	}
	return "", false
}

var _ resolve.Client = (*PyPI)(nil)
