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
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/selector"
)

// apkRecord is a single entry of an APKINDEX text database.
type apkRecord struct {
	Name     string
	Version  string
	Arch     string
	Size     int64
	Checksum string
	Depends  []string
	Provides []string
}

// parseAPKIndex parses the plain-text APKINDEX file embedded in
// APKINDEX.tar.gz: records are blank-line separated, each line a
// single-letter key, a colon, and the value.
func parseAPKIndex(r io.Reader) ([]apkRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []apkRecord
	cur := apkRecord{}
	flush := func() {
		if cur.Name != "" {
			out = append(out, cur)
		}
		cur = apkRecord{}
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		key, value := line[0], line[2:]
		switch key {
		case 'P':
			cur.Name = value
		case 'V':
			cur.Version = value
		case 'A':
			cur.Arch = value
		case 'D':
			cur.Depends = splitAPKList(value)
		case 'p':
			cur.Provides = splitAPKList(value)
		case 'S':
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Size = n
			}
		case 'C':
			cur.Checksum = value
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func splitAPKList(value string) []string {
	return strings.Fields(value)
}

// apkConstraint splits an APKINDEX depend token ("so:libc.so.6",
// "pkgname>=1.2.3", or a bare "pkgname") into name and constraint.
func apkConstraint(tok string) (name, constraint string) {
	for _, op := range []string{">=", "<=", "><", "=", ">", "<", "~"} {
		if i := strings.Index(tok, op); i > 0 {
			return tok[:i], op + " " + tok[i+len(op):]
		}
	}
	return tok, ""
}

// APK implements resolve.Client against an Alpine APKINDEX.tar.gz.
type APK struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
	Arch    string
}

// NewAPK creates an APK registry client for a repo's {branch}/{repo}/{arch}
// directory, e.g. https://dl-cdn.alpinelinux.org/alpine/v3.19/main/x86_64.
func NewAPK(http *HTTPClient, c *cache.Cache, baseURL, arch string) *APK {
	return &APK{HTTP: http, Cache: c, BaseURL: baseURL, Arch: arch}
}

func (c *APK) index(ctx context.Context) ([]apkRecord, error) {
	key := "apk:index:" + c.BaseURL
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		resp, err := c.HTTP.GetMetadata(ctx, c.BaseURL+"/APKINDEX.tar.gz")
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "apk", c.BaseURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "apk", c.BaseURL, "APKINDEX.tar.gz: %s", resp.Status)
		}
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "apk", c.BaseURL, err)
		}
		defer gz.Close()
		tr := tar.NewReader(gz)
		for {
			h, err := tr.Next()
			if err == io.EOF {
				return nil, 0, engineerr.Newf(engineerr.ProtocolError, "apk", c.BaseURL, "no APKINDEX entry in archive")
			}
			if err != nil {
				return nil, 0, engineerr.New(engineerr.ProtocolError, "apk", c.BaseURL, err)
			}
			if h.Name != "APKINDEX" {
				continue
			}
			recs, err := parseAPKIndex(tr)
			if err != nil {
				return nil, 0, engineerr.New(engineerr.ProtocolError, "apk", c.BaseURL, err)
			}
			return recs, cache.DefaultTTL, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]apkRecord), nil
}

func (c *APK) recordsFor(ctx context.Context, name string) ([]apkRecord, error) {
	all, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	var out []apkRecord
	for _, r := range all {
		if r.Name == name {
			out = append(out, r)
			continue
		}
		for _, p := range r.Provides {
			provName, _ := apkConstraint(p)
			if provName == name {
				out = append(out, r)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, engineerr.Newf(engineerr.NotFound, "apk", name, "no package or provider")
	}
	return out, nil
}

// Versions implements resolve.Client.
func (c *APK) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	recs, err := c.recordsFor(ctx, pk.Name)
	if err != nil {
		return nil, err
	}
	var out []resolve.Version
	for _, r := range recs {
		out = append(out, resolve.Version{VersionKey: resolve.VersionKey{
			PackageKey:  resolve.PackageKey{Kind: resolve.APK, Name: r.Name},
			VersionType: resolve.Concrete,
			Version:     r.Version,
		}})
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *APK) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	recs, err := c.recordsFor(ctx, vk.Name)
	if err != nil {
		return resolve.Version{}, err
	}
	for _, r := range recs {
		if r.Version == vk.Version {
			return resolve.Version{VersionKey: vk}, nil
		}
	}
	return resolve.Version{}, engineerr.Newf(engineerr.NotFound, "apk", vk.String(), "version not found")
}

// Requirements implements resolve.Client.
func (c *APK) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	recs, err := c.recordsFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var rec *apkRecord
	for i := range recs {
		if recs[i].Version == vk.Version {
			rec = &recs[i]
			break
		}
	}
	if rec == nil {
		return nil, engineerr.Newf(engineerr.NotFound, "apk", vk.String(), "version not found")
	}
	var out []resolve.RequirementVersion
	for _, tok := range rec.Depends {
		if strings.HasPrefix(tok, "!") {
			continue
		}
		name, constraint := apkConstraint(tok)
		out = append(out, resolve.RequirementVersion{
			VersionKey: resolve.VersionKey{
				PackageKey:  resolve.PackageKey{Kind: resolve.APK, Name: name},
				VersionType: resolve.Requirement,
				Version:     constraint,
			},
			Type: dep.NewType(),
		})
	}
	resolve.SortDependencies(out)
	return out, nil
}

// MatchingVersions implements resolve.Client.
func (c *APK) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// FetchBlob streams the .apk archive at url.
func (c *APK) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "apk", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

// Candidates returns the single .apk artifact named by "{name}-{version}.apk"
// under this client's arch directory, decoding the index's "Q1"-prefixed
// base64 checksum into hex for the scheduler's verifier.
func (c *APK) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	recs, err := c.recordsFor(ctx, vk.Name)
	if err != nil {
		return nil, err
	}
	var out []selector.Candidate
	for _, r := range recs {
		if r.Version != vk.Version {
			continue
		}
		fn := r.Name + "-" + r.Version + ".apk"
		a := artifact.Artifact{
			URL:       c.BaseURL + "/" + fn,
			Filename:  fn,
			SizeBytes: r.Size,
		}
		if hexSum, ok := decodeAPKChecksum(r.Checksum); ok {
			a.Checksum = artifact.Checksum{Algo: "sha1", Hex: hexSum}
			a.HasChecksum = true
		}
		out = append(out, selector.Candidate{
			Version:   vk.Version,
			Subdir:    r.Arch,
			NotYanked: true,
			Artifact:  a,
		})
	}
	return out, nil
}

// decodeAPKChecksum strips the "Q1" algorithm prefix APKINDEX uses and
// decodes the remaining base64 digest into hex.
func decodeAPKChecksum(cksum string) (hexDigest string, ok bool) {
	b64 := strings.TrimPrefix(cksum, "Q1")
	if b64 == cksum || b64 == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", false
	}
	return hex.EncodeToString(raw), true
}

var _ resolve.Client = (*APK)(nil)
