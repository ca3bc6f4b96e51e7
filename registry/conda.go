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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/resolve/version"
	"github.com/offlinedeps/aggregator/selector"
)

// CondaBaseURL is the default Anaconda repository origin.
const CondaBaseURL = "https://conda.anaconda.org"

// condaRecord is a single entry of repodata.json's "packages" or
// "packages.conda" maps.
type condaRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	Constrains  []string `json:"constrains"`
	Subdir      string   `json:"subdir"`
	Channel     string   `json:"channel"`
	Timestamp   int64    `json:"timestamp"`
	NoArch      string   `json:"noarch"`
	Filename    string   `json:"-"`
}

type condaRepodata struct {
	Packages      map[string]condaRecord `json:"packages"`
	PackagesConda map[string]condaRecord `json:"packages.conda"`
}

// Conda implements resolve.Client against an Anaconda channel's repodata,
// merged across one or more platform subdirs (the requested subdir plus
// "noarch", since every conda environment draws from both).
type Conda struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
	Channel string
	Subdirs []string
}

// NewConda creates a Conda registry client fetching from channel, merging
// the given platform subdirs (e.g. "linux-64") with "noarch" implicitly
// added if not already present.
func NewConda(http *HTTPClient, c *cache.Cache, channel string, subdirs ...string) *Conda {
	hasNoarch := false
	for _, s := range subdirs {
		if s == "noarch" {
			hasNoarch = true
		}
	}
	if !hasNoarch {
		subdirs = append(subdirs, "noarch")
	}
	return &Conda{HTTP: http, Cache: c, BaseURL: CondaBaseURL, Channel: channel, Subdirs: subdirs}
}

// repodata fetches and decodes one subdir's repodata, preferring the
// zstd-compressed repodata.json.zst and, when a fetch fails for any
// reason, falling back to current_repodata.json and then repodata.json.
func (c *Conda) repodata(ctx context.Context, subdir string) (*condaRepodata, error) {
	key := fmt.Sprintf("conda:repodata:%s:%s:%s", c.Channel, subdir, "v1")
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		base := strings.Join([]string{c.BaseURL, c.Channel, subdir}, "/")
		data, err := c.fetchRepodataBytes(ctx, base)
		if err != nil {
			return nil, 0, err
		}
		var rd condaRepodata
		if err := json.Unmarshal(data, &rd); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "conda", subdir, err)
		}
		for k, r := range rd.Packages {
			r.Subdir = subdir
			r.Filename = k
			rd.Packages[k] = r
		}
		for k, r := range rd.PackagesConda {
			r.Subdir = subdir
			r.Filename = k
			rd.PackagesConda[k] = r
		}
		return &rd, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*condaRepodata), nil
}

func (c *Conda) fetchRepodataBytes(ctx context.Context, base string) ([]byte, error) {
	if data, err := c.fetchAndMaybeDecompress(ctx, base+"/repodata.json.zst", true); err == nil {
		return data, nil
	}
	if data, err := c.fetchAndMaybeDecompress(ctx, base+"/current_repodata.json", false); err == nil {
		return data, nil
	}
	return c.fetchAndMaybeDecompress(ctx, base+"/repodata.json", false)
}

func (c *Conda) fetchAndMaybeDecompress(ctx context.Context, url string, zstdEncoded bool) ([]byte, error) {
	resp, err := c.HTTP.GetMetadata(ctx, url)
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "conda", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, engineerr.Newf(engineerr.ProtocolError, "conda", url, "repodata: %s", resp.Status)
	}
	if !zstdEncoded {
		return io.ReadAll(resp.Body)
	}
	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, engineerr.New(engineerr.ProtocolError, "conda", url, err)
	}
	defer dec.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, engineerr.New(engineerr.ProtocolError, "conda", url, err)
	}
	return buf.Bytes(), nil
}

// records returns every condaRecord for pk.Name merged across c.Subdirs,
// preferring the packages.conda entry over packages.json's when a
// filename appears in both (the .conda format superseding .tar.bz2).
func (c *Conda) records(ctx context.Context, name string) ([]condaRecord, error) {
	var out []condaRecord
	var lastErr error
	found := false
	for _, subdir := range c.Subdirs {
		rd, err := c.repodata(ctx, subdir)
		if err != nil {
			lastErr = err
			continue
		}
		found = true
		merged := make(map[string]condaRecord)
		for fn, r := range rd.Packages {
			if r.Name == name {
				merged[fn] = r
			}
		}
		for fn, r := range rd.PackagesConda {
			if r.Name == name {
				merged[fn] = r
			}
		}
		for _, r := range merged {
			out = append(out, r)
		}
	}
	if !found {
		return nil, lastErr
	}
	if len(out) == 0 {
		return nil, engineerr.Newf(engineerr.NotFound, "conda", name, "no records in channel %s", c.Channel)
	}
	return out, nil
}

// Versions implements resolve.Client.
func (c *Conda) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	recs, err := c.records(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	var out []resolve.Version
	for _, r := range recs {
		v := resolve.Version{VersionKey: resolve.VersionKey{PackageKey: pk, VersionType: resolve.Concrete, Version: r.Version}}
		v.SetAttr(version.CondaBuildNumber, fmt.Sprintf("%d", r.BuildNumber))
		out = append(out, v)
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *Conda) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	recs, err := c.records(ctx, vk.Name)
	if err != nil {
		return resolve.Version{}, err
	}
	for _, r := range recs {
		if r.Version == vk.Version {
			v := resolve.Version{VersionKey: vk}
			v.SetAttr(version.CondaBuildNumber, fmt.Sprintf("%d", r.BuildNumber))
			v.SetAttr(version.CondaChannel, c.Channel)
			return v, nil
		}
	}
	return resolve.Version{}, engineerr.Newf(engineerr.NotFound, "conda", vk.String(), "version not found")
}

// Requirements implements resolve.Client, parsing each record's "depends"
// list of loose MatchSpec strings ("name", "name version", or
// "name version build").
func (c *Conda) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	recs, err := c.records(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var rec *condaRecord
	for i := range recs {
		if recs[i].Version == vk.Version {
			rec = &recs[i]
			break
		}
	}
	if rec == nil {
		return nil, engineerr.Newf(engineerr.NotFound, "conda", vk.String(), "version not found")
	}
	var out []resolve.RequirementVersion
	for _, spec := range rec.Depends {
		name, constraint := splitCondaSpec(spec)
		if name == "" {
			continue
		}
		out = append(out, resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.Conda, Name: name},
				VersionType: resolve.Requirement,
				Version:     constraint,
			},
			Type: dep.NewType(),
		})
	}
	resolve.SortDependencies(out)
	return out, nil
}

// splitCondaSpec splits a MatchSpec dependency string into its package
// name and the remaining version/build constraint text.
func splitCondaSpec(spec string) (name, rest string) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// MatchingVersions implements resolve.Client.
func (c *Conda) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// Candidates returns one selector.Candidate per subdir build of
// vk.Version, carrying the subdir and build number the selector uses to
// prefer noarch and the highest build number.
func (c *Conda) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	recs, err := c.records(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var out []selector.Candidate
	for _, r := range recs {
		if r.Version != vk.Version {
			continue
		}
		out = append(out, selector.Candidate{
			Version:    vk.Version,
			Subdir:     r.Subdir,
			BuildNum:   r.BuildNumber,
			UploadTime: r.Timestamp,
			Tags:       []string{r.Build},
			NotYanked:  true,
			Artifact: artifact.Artifact{
				URL:      strings.Join([]string{c.BaseURL, c.Channel, r.Subdir, r.Filename}, "/"),
				Filename: r.Filename,
				Subdir:   r.Subdir,
			},
		})
	}
	return out, nil
}

// FetchBlob streams the .conda or .tar.bz2 artifact at url.
func (c *Conda) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "conda", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

var _ resolve.Client = (*Conda)(nil)
