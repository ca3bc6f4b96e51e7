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

package registry

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/selector"
)

// controlStanza is a parsed RFC822-style stanza: one field name to its
// (continuation-joined) value.
type controlStanza map[string]string

// parseControlStanzas scans r for a sequence of RFC822 stanzas separated
// by blank lines, folding " "/"\t"-prefixed continuation lines into the
// previous field, the way a .dsc or Packages file is structured.
func parseControlStanzas(r io.Reader) ([]controlStanza, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var stanzas []controlStanza
	cur := controlStanza{}
	lastField := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "":
			if len(cur) > 0 {
				stanzas = append(stanzas, cur)
				cur = controlStanza{}
				lastField = ""
			}
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			if lastField == "" {
				return nil, errors.Errorf("unexpected continuation line: %q", line)
			}
			cur[lastField] += " " + strings.TrimSpace(line)
		default:
			field, value, found := strings.Cut(line, ":")
			if !found {
				return nil, errors.Errorf("expected field: %q", line)
			}
			cur[field] = strings.TrimSpace(value)
			lastField = field
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cur) > 0 {
		stanzas = append(stanzas, cur)
	}
	return stanzas, nil
}

// APT implements resolve.Client against a Debian/Ubuntu-style APT
// repository's binary-{arch} Packages index.
type APT struct {
	HTTP       *HTTPClient
	Cache      *cache.Cache
	BaseURL    string
	Codename   string
	Component  string
	Arch       string
}

// NewAPT creates an APT registry client for one (codename, component, arch)
// combination, e.g. ("bookworm", "main", "amd64").
func NewAPT(http *HTTPClient, c *cache.Cache, baseURL, codename, component, arch string) *APT {
	return &APT{HTTP: http, Cache: c, BaseURL: baseURL, Codename: codename, Component: component, Arch: arch}
}

func (c *APT) packagesURL() string {
	return fmt.Sprintf("%s/dists/%s/%s/binary-%s/Packages.gz", c.BaseURL, c.Codename, c.Component, c.Arch)
}

func (c *APT) index(ctx context.Context) ([]controlStanza, error) {
	key := fmt.Sprintf("apt:packages:%s:%s:%s:%s", c.BaseURL, c.Codename, c.Component, c.Arch)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		resp, err := c.HTTP.GetMetadata(ctx, c.packagesURL())
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "apt", c.Codename, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "apt", c.Codename, "Packages.gz: %s", resp.Status)
		}
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "apt", c.Codename, err)
		}
		defer gz.Close()
		stanzas, err := parseControlStanzas(gz)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "apt", c.Codename, err)
		}
		return stanzas, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]controlStanza), nil
}

func (c *APT) stanzasFor(ctx context.Context, name string) ([]controlStanza, error) {
	all, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	var out []controlStanza
	for _, s := range all {
		if s["Package"] == name {
			out = append(out, s)
			continue
		}
		for _, prov := range splitDebList(s["Provides"]) {
			if prov == name {
				out = append(out, s)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, engineerr.Newf(engineerr.NotFound, "apt", name, "no package or provider")
	}
	return out, nil
}

// Versions implements resolve.Client.
func (c *APT) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	stanzas, err := c.stanzasFor(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	var out []resolve.Version
	for _, s := range stanzas {
		out = append(out, resolve.Version{VersionKey: resolve.VersionKey{
			PackageKey:  resolve.PackageKey{Kind: resolve.APT, Name: s["Package"]},
			VersionType: resolve.Concrete,
			Version:     s["Version"],
		}})
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *APT) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	stanzas, err := c.stanzasFor(ctx, vk.Name)
	if err != nil {
		return resolve.Version{}, err
	}
	for _, s := range stanzas {
		if s["Version"] == vk.Version {
			return resolve.Version{VersionKey: vk}, nil
		}
	}
	return resolve.Version{}, engineerr.Newf(engineerr.NotFound, "apt", vk.String(), "version not found")
}

// Requirements implements resolve.Client, parsing the comma-separated
// Depends field (ignoring alternatives after the first "|" choice, since
// the resolver has no basis to prefer one alternative over another without
// installed-state feedback).
func (c *APT) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	stanzas, err := c.stanzasFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var rec controlStanza
	for _, s := range stanzas {
		if s["Version"] == vk.Version {
			rec = s
			break
		}
	}
	if rec == nil {
		return nil, engineerr.Newf(engineerr.NotFound, "apt", vk.String(), "version not found")
	}
	var out []resolve.RequirementVersion
	for _, clause := range splitDebList(rec["Depends"]) {
		choice := strings.TrimSpace(strings.SplitN(clause, "|", 2)[0])
		name, constraint := parseDebClause(choice)
		if name == "" {
			continue
		}
		out = append(out, resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.APT, Name: name},
				VersionType: resolve.Requirement,
				Version:     constraint,
			},
			Type: dep.NewType(),
		})
	}
	resolve.SortDependencies(out)
	return out, nil
}

// splitDebList splits a comma-separated Depends/Provides field, trimming
// whitespace around each element and discarding empties.
func splitDebList(field string) []string {
	if field == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(field, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDebClause splits a single dependency clause like "libc6 (>= 2.34)"
// into its package name and version constraint.
func parseDebClause(clause string) (name, constraint string) {
	name, rest, ok := strings.Cut(clause, "(")
	name = strings.TrimSpace(name)
	if !ok {
		return name, ""
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), ")")
	return name, rest
}

// MatchingVersions implements resolve.Client.
func (c *APT) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// FetchBlob streams the .deb archive at url.
func (c *APT) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "apt", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

// Candidates returns the single binary .deb artifact the stanza's Filename
// field names, with Architecture recorded as the candidate's Subdir so
// SelectDistro can filter "all" packages in alongside an exact arch match.
func (c *APT) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	stanzas, err := c.stanzasFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var out []selector.Candidate
	for _, s := range stanzas {
		if s["Version"] != vk.Version {
			continue
		}
		if s["Filename"] == "" {
			continue
		}
		a := artifact.Artifact{
			URL:      c.BaseURL + "/" + s["Filename"],
			Filename: path.Base(s["Filename"]),
		}
		if size, err := strconv.ParseInt(s["Size"], 10, 64); err == nil {
			a.SizeBytes = size
		}
		if sum := s["SHA256"]; sum != "" {
			a.Checksum = artifact.Checksum{Algo: "sha256", Hex: sum}
			a.HasChecksum = true
		}
		arch := s["Architecture"]
		if arch == "all" {
			arch = "noarch"
		}
		out = append(out, selector.Candidate{
			Version:   vk.Version,
			Subdir:    arch,
			NotYanked: true,
			Artifact:  a,
		})
	}
	return out, nil
}

var _ resolve.Client = (*APT)(nil)
