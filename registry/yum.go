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
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"path"
	"strings"
	"time"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/selector"
)

type repomd struct {
	Data []repomdData `xml:"data"`
}

type repomdData struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

type yumPrimary struct {
	Packages []yumPackage `xml:"package"`
}

type yumPackage struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Format   yumFormat `xml:"format"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Size struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
}

type yumFormat struct {
	Requires yumEntryList `xml:"requires"`
	Provides yumEntryList `xml:"provides"`
}

type yumEntryList struct {
	Entries []yumEntry `xml:"entry"`
}

type yumEntry struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr"`
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

// EVR formats the package's epoch:version-release string.
func (p yumPackage) EVR() string {
	v := p.Version.Ver
	if p.Version.Rel != "" {
		v += "-" + p.Version.Rel
	}
	if p.Version.Epoch != "" && p.Version.Epoch != "0" {
		v = p.Version.Epoch + ":" + v
	}
	return v
}

func yumOperatorFor(flags string) string {
	switch flags {
	case "EQ":
		return "="
	case "LE":
		return "<="
	case "GE":
		return ">="
	case "LT":
		return "<"
	case "GT":
		return ">"
	default:
		return ""
	}
}

// entryConstraint renders a requires/provides entry as a "<op> <evr>"
// constraint string, or "" when the entry is unversioned.
func entryConstraint(e yumEntry) string {
	op := yumOperatorFor(e.Flags)
	if op == "" || e.Ver == "" {
		return ""
	}
	evr := e.Ver
	if e.Rel != "" {
		evr += "-" + e.Rel
	}
	if e.Epoch != "" && e.Epoch != "0" {
		evr = e.Epoch + ":" + evr
	}
	return op + " " + evr
}

// YUM implements resolve.Client against a repomd.xml + primary.xml.gz
// RPM repository.
type YUM struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
	Arch    string
}

// NewYUM creates a YUM registry client for repoBaseURL, filtering the
// primary index to arch plus "noarch".
func NewYUM(http *HTTPClient, c *cache.Cache, repoBaseURL, arch string) *YUM {
	return &YUM{HTTP: http, Cache: c, BaseURL: repoBaseURL, Arch: arch}
}

func (c *YUM) repomd(ctx context.Context) (*repomd, error) {
	resp, err := c.HTTP.GetMetadata(ctx, c.BaseURL+"/repodata/repomd.xml")
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "yum", c.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, engineerr.Newf(engineerr.ProtocolError, "yum", c.BaseURL, "repomd.xml: %s", resp.Status)
	}
	var rm repomd
	if err := xml.NewDecoder(resp.Body).Decode(&rm); err != nil {
		return nil, engineerr.New(engineerr.ProtocolError, "yum", c.BaseURL, err)
	}
	return &rm, nil
}

func (c *YUM) primaryLocation(ctx context.Context) (string, error) {
	rm, err := c.repomd(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range rm.Data {
		if d.Type == "primary" {
			return d.Location.Href, nil
		}
	}
	return "", engineerr.Newf(engineerr.ProtocolError, "yum", c.BaseURL, "repomd.xml has no primary entry")
}

func (c *YUM) index(ctx context.Context) ([]yumPackage, error) {
	key := "yum:primary:" + c.BaseURL
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		loc, err := c.primaryLocation(ctx)
		if err != nil {
			return nil, 0, err
		}
		resp, err := c.HTTP.GetMetadata(ctx, c.BaseURL+"/"+loc)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "yum", c.BaseURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "yum", c.BaseURL, "primary: %s", resp.Status)
		}
		var r io.Reader = resp.Body
		if strings.HasSuffix(loc, ".gz") {
			gz, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, 0, engineerr.New(engineerr.ProtocolError, "yum", c.BaseURL, err)
			}
			defer gz.Close()
			r = gz
		}
		var p yumPrimary
		if err := xml.NewDecoder(r).Decode(&p); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "yum", c.BaseURL, err)
		}
		return p.Packages, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]yumPackage), nil
}

func (c *YUM) packagesFor(ctx context.Context, name string) ([]yumPackage, error) {
	all, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	var out []yumPackage
	for _, p := range all {
		if p.Arch != c.Arch && p.Arch != "noarch" {
			continue
		}
		if p.Name == name {
			out = append(out, p)
			continue
		}
		for _, prov := range p.Format.Provides.Entries {
			if prov.Name == name {
				out = append(out, p)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, engineerr.Newf(engineerr.NotFound, "yum", name, "no package or provider")
	}
	return out, nil
}

// Versions implements resolve.Client.
func (c *YUM) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	pkgs, err := c.packagesFor(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	var out []resolve.Version
	for _, p := range pkgs {
		out = append(out, resolve.Version{VersionKey: resolve.VersionKey{
			PackageKey:  resolve.PackageKey{Kind: resolve.YUM, Name: p.Name},
			VersionType: resolve.Concrete,
			Version:     p.EVR(),
		}})
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *YUM) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	pkgs, err := c.packagesFor(ctx, vk.Name)
	if err != nil {
		return resolve.Version{}, err
	}
	for _, p := range pkgs {
		if p.EVR() == vk.Version {
			return resolve.Version{VersionKey: vk}, nil
		}
	}
	return resolve.Version{}, engineerr.Newf(engineerr.NotFound, "yum", vk.String(), "version not found")
}

// Requirements implements resolve.Client.
func (c *YUM) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	pkgs, err := c.packagesFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var rec *yumPackage
	for i := range pkgs {
		if pkgs[i].EVR() == vk.Version {
			rec = &pkgs[i]
			break
		}
	}
	if rec == nil {
		return nil, engineerr.Newf(engineerr.NotFound, "yum", vk.String(), "version not found")
	}
	var out []resolve.RequirementVersion
	for _, e := range rec.Format.Requires.Entries {
		if e.Name == "" || strings.HasPrefix(e.Name, "rpmlib(") {
			continue
		}
		out = append(out, resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.YUM, Name: e.Name},
				VersionType: resolve.Requirement,
				Version:     entryConstraint(e),
			},
			Type: dep.NewType(),
		})
	}
	resolve.SortDependencies(out)
	return out, nil
}

// MatchingVersions implements resolve.Client.
func (c *YUM) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// FetchBlob streams the .rpm archive at url.
func (c *YUM) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "yum", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

// Candidates returns the single RPM artifact the primary index's location
// href names, with Arch recorded as the candidate's Subdir.
func (c *YUM) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	pkgs, err := c.packagesFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var out []selector.Candidate
	for _, p := range pkgs {
		if p.EVR() != vk.Version || p.Location.Href == "" {
			continue
		}
		a := artifact.Artifact{
			URL:       c.BaseURL + "/" + p.Location.Href,
			Filename:  path.Base(p.Location.Href),
			SizeBytes: p.Size.Package,
		}
		if p.Checksum.Value != "" {
			a.Checksum = artifact.Checksum{Algo: p.Checksum.Type, Hex: p.Checksum.Value}
			a.HasChecksum = true
		}
		out = append(out, selector.Candidate{
			Version:   vk.Version,
			Subdir:    p.Arch,
			NotYanked: true,
			Artifact:  a,
		})
	}
	return out, nil
}

var _ resolve.Client = (*YUM)(nil)
