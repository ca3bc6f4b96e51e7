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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/selector"
)

// ociAcceptTypes lists the manifest media types requested of the registry,
// newest/most-specific first, mirroring the Accept header a real OCI
// client sends so registries serving only one format still respond.
var ociAcceptTypes = []string{
	ocispec.MediaTypeImageIndex,
	"application/vnd.docker.distribution.manifest.list.v2+json",
	ocispec.MediaTypeImageManifest,
	"application/vnd.docker.distribution.manifest.v2+json",
}

// OCI implements resolve.Client against an OCI Distribution v2 registry,
// handling the Bearer token challenge and manifest-list platform
// selection.
type OCI struct {
	HTTP     *HTTPClient
	Cache    *cache.Cache
	Registry string // host[:port], e.g. "registry-1.docker.io"
	tokenHTTP *http.Client
}

// NewOCI creates an OCI registry client against registry (host[:port]).
func NewOCI(httpClient *HTTPClient, c *cache.Cache, registryHost string) *OCI {
	return &OCI{HTTP: httpClient, Cache: c, Registry: registryHost, tokenHTTP: &http.Client{}}
}

func (c *OCI) repoURL(repo string) string {
	return fmt.Sprintf("https://%s/v2/%s", c.Registry, repo)
}

// authenticate performs the Bearer token challenge described by a 401's
// Www-Authenticate header and returns a token to use as Authorization:
// Bearer <token> on the retried request.
func (c *OCI) authenticate(ctx context.Context, challenge, repo string) (string, error) {
	params := parseWWWAuthenticate(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", engineerr.Newf(engineerr.ProtocolError, "oci", repo, "missing realm in auth challenge")
	}
	u, err := url.Parse(realm)
	if err != nil {
		return "", engineerr.New(engineerr.ProtocolError, "oci", repo, err)
	}
	q := u.Query()
	if service := params["service"]; service != "" {
		q.Set("service", service)
	}
	if scope := params["scope"]; scope != "" {
		q.Set("scope", scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.tokenHTTP.Do(req)
	if err != nil {
		return "", engineerr.New(engineerr.Transient, "oci", repo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", engineerr.Newf(engineerr.ProtocolError, "oci", repo, "token endpoint: %s", resp.Status)
	}
	var tr struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", engineerr.New(engineerr.ProtocolError, "oci", repo, err)
	}
	if tr.Token != "" {
		return tr.Token, nil
	}
	return tr.AccessToken, nil
}

// parseWWWAuthenticate parses a `Bearer realm="...",service="...",scope="..."`
// header value into its key/value parameters.
func parseWWWAuthenticate(header string) map[string]string {
	out := map[string]string{}
	header = strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out[k] = strings.Trim(v, `"`)
	}
	return out
}

// getManifest performs a manifest GET for repo:reference, retrying once
// with a Bearer token if the registry challenges the anonymous request.
func (c *OCI) getManifest(ctx context.Context, repo, reference string) (*http.Response, error) {
	do := func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.repoURL(repo)+"/manifests/"+reference, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", strings.Join(ociAcceptTypes, ", "))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.HTTP.Do(ctx, req, MetadataTimeout)
	}

	resp, err := do("")
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "oci", repo, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("Www-Authenticate")
		resp.Body.Close()
		token, err := c.authenticate(ctx, challenge, repo)
		if err != nil {
			return nil, err
		}
		resp, err = do(token)
		if err != nil {
			return nil, engineerr.New(engineerr.Transient, "oci", repo, err)
		}
	}
	return resp, nil
}

// manifestResult holds either a resolved single manifest (with its digest)
// or, for a manifest list, the list of per-platform descriptors.
type manifestResult struct {
	Digest    string
	MediaType string
	Index     *ocispec.Index
	Manifest  *ocispec.Manifest
}

func (c *OCI) fetch(ctx context.Context, repo, reference string) (*manifestResult, error) {
	key := fmt.Sprintf("oci:manifest:%s:%s:%s", c.Registry, repo, reference)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		resp, err := c.getManifest(ctx, repo, reference)
		if err != nil {
			return nil, 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "oci", repo+":"+reference, "manifest not found")
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "oci", repo+":"+reference, "manifest fetch: %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "oci", repo, err)
		}
		mr := &manifestResult{
			Digest:    resp.Header.Get("Docker-Content-Digest"),
			MediaType: resp.Header.Get("Content-Type"),
		}
		switch {
		case strings.Contains(mr.MediaType, "manifest.list") || strings.Contains(mr.MediaType, "image.index"):
			var idx ocispec.Index
			if err := json.Unmarshal(data, &idx); err != nil {
				return nil, 0, engineerr.New(engineerr.ProtocolError, "oci", repo, err)
			}
			mr.Index = &idx
		default:
			var m ocispec.Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, 0, engineerr.New(engineerr.ProtocolError, "oci", repo, err)
			}
			mr.Manifest = &m
		}
		return mr, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*manifestResult), nil
}

func splitRepoReference(name string) (repo, reference string) {
	if i := strings.LastIndex(name, "@"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, "latest"
}

// Versions implements resolve.Client. OCI registries have no enumerable
// version listing API in general (tags list is not a semantic version
// set), so Versions returns the single reference carried in pk.Name after
// "@", or "latest" when none is embedded; it never returns an error.
func (c *OCI) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	repo, reference := splitRepoReference(pk.Name)
	return []resolve.Version{{VersionKey: resolve.VersionKey{
		PackageKey:  pk,
		VersionType: resolve.Concrete,
		Version:     repo + "@" + reference,
	}}}, nil
}

// Version implements resolve.Client by fetching the manifest (or manifest
// list) and confirming it exists; the reference is the tag or digest
// embedded in vk.Version.
func (c *OCI) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	repo, reference := splitRepoReference(vk.Version)
	if reference == "latest" && strings.Contains(vk.Version, "@") {
		_, reference = splitRepoReference(vk.Version)
	}
	if _, err := c.fetch(ctx, repo, reference); err != nil {
		return resolve.Version{}, err
	}
	return resolve.Version{VersionKey: vk}, nil
}

// Requirements implements resolve.Client; OCI images have no transitive
// dependency graph.
func (c *OCI) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	return nil, nil
}

// MatchingVersions implements resolve.Client.
func (c *OCI) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	v, err := c.Version(ctx, vk)
	if err != nil {
		return nil, err
	}
	return []resolve.Version{v}, nil
}

// SelectManifest resolves repo:reference to the concrete manifest for
// dockerOS/dockerArch, descending one level into a manifest list if
// needed, and returns its digest and config/layer descriptors.
func (c *OCI) SelectManifest(ctx context.Context, repo, reference, dockerOS, dockerArch string) (digest string, manifest *ocispec.Manifest, err error) {
	mr, err := c.fetch(ctx, repo, reference)
	if err != nil {
		return "", nil, err
	}
	if mr.Manifest != nil {
		return mr.Digest, mr.Manifest, nil
	}
	for _, d := range mr.Index.Manifests {
		if d.Platform == nil {
			continue
		}
		if d.Platform.OS == dockerOS && d.Platform.Architecture == dockerArch {
			sub, err := c.fetch(ctx, repo, d.Digest.String())
			if err != nil {
				return "", nil, err
			}
			if sub.Manifest == nil {
				return "", nil, engineerr.Newf(engineerr.ProtocolError, "oci", repo, "platform entry did not resolve to an image manifest")
			}
			return sub.Digest, sub.Manifest, nil
		}
	}
	return "", nil, engineerr.Newf(engineerr.NoCompatibleArtifact, "oci", repo, "no manifest for %s/%s", dockerOS, dockerArch)
}

// Candidates returns one selector.Candidate per platform entry of the
// manifest list, Subdir set to "<os>/<arch>" for SelectOCI's filter, or a
// single candidate with an empty Subdir when reference already names a
// concrete (single-platform) manifest. The candidate's Artifact identifies
// the image manifest itself rather than a downloadable file: an image is a
// blob graph (config plus layers), fetched afterward through SelectManifest
// and FetchBlob, not through the single-file scheduler.
func (c *OCI) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	repo, reference := splitRepoReference(vk.Version)
	mr, err := c.fetch(ctx, repo, reference)
	if err != nil {
		return nil, err
	}
	if mr.Manifest != nil {
		return []selector.Candidate{{
			Version:   vk.Version,
			NotYanked: true,
			Artifact: artifact.Artifact{
				URL:      repo + "@" + mr.Digest,
				Filename: repo + "@" + mr.Digest,
			},
		}}, nil
	}
	var out []selector.Candidate
	for _, d := range mr.Index.Manifests {
		if d.Platform == nil {
			continue
		}
		subdir := d.Platform.OS + "/" + d.Platform.Architecture
		out = append(out, selector.Candidate{
			Version:   vk.Version,
			Subdir:    subdir,
			NotYanked: true,
			Artifact: artifact.Artifact{
				URL:       repo + "@" + d.Digest.String(),
				Filename:  repo + "@" + d.Digest.String(),
				SizeBytes: d.Size,
			},
		})
	}
	return out, nil
}

// FetchBlob streams the config or layer blob at digest from repo.
func (c *OCI) FetchBlob(ctx context.Context, repo, digest string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.repoURL(repo)+"/blobs/"+digest, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(ctx, req, BlobTimeout)
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "oci", repo, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("Www-Authenticate")
		resp.Body.Close()
		token, err := c.authenticate(ctx, challenge, repo)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.repoURL(repo)+"/blobs/"+digest, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err = c.HTTP.Do(ctx, req, BlobTimeout)
		if err != nil {
			return nil, engineerr.New(engineerr.Transient, "oci", repo, err)
		}
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "oci", repo, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

var _ resolve.Client = (*OCI)(nil)
