// Copyright 2024 Google LLC
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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/maven"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/dep"
	"github.com/offlinedeps/aggregator/selector"
)

// MavenCentralURL is the default Maven Central repository origin.
const MavenCentralURL = "https://repo1.maven.org/maven2"

// MaxMavenParents bounds the parent POM chain walked before giving up,
// guarding against a cycle in a misconfigured repository.
const MaxMavenParents = 100

// Maven implements resolve.Client by fetching and interpolating real POM
// documents, the way Maven itself builds an effective model before
// resolving dependencies.
type Maven struct {
	HTTP    *HTTPClient
	Cache   *cache.Cache
	BaseURL string
}

// NewMaven creates a Maven registry client.
func NewMaven(http *HTTPClient, c *cache.Cache) *Maven {
	return &Maven{HTTP: http, Cache: c, BaseURL: MavenCentralURL}
}

func pomPath(pk maven.ProjectKey) string {
	group := strings.ReplaceAll(string(pk.GroupID), ".", "/")
	return fmt.Sprintf("%s/%s/%s/%s-%s.pom", group, pk.ArtifactID, pk.Version, pk.ArtifactID, pk.Version)
}

func metadataPath(pk resolve.PackageKey) (string, error) {
	group, artifact, ok := strings.Cut(pk.Name, ":")
	if !ok {
		return "", errors.New("invalid Maven package name")
	}
	return fmt.Sprintf("%s/%s/maven-metadata.xml", strings.ReplaceAll(group, ".", "/"), artifact), nil
}

// fetchProject fetches and unmarshals the raw (uninterpolated, unmerged)
// POM for a single coordinate.
func (c *Maven) fetchProject(ctx context.Context, pk maven.ProjectKey) (*maven.Project, error) {
	key := fmt.Sprintf("maven:pom:%s:%s", pk.Name(), pk.Version)
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		u := c.BaseURL + "/" + pomPath(pk)
		resp, err := c.HTTP.GetMetadata(ctx, u)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "maven", pk.Name(), err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "maven", pk.Name(), "pom not found: %s", pk.Version)
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "maven", pk.Name(), "pom fetch: %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "maven", pk.Name(), err)
		}
		var proj maven.Project
		if err := xml.Unmarshal(data, &proj); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "maven", pk.Name(), err)
		}
		proj.ProjectKey = pk
		return &proj, cache.TTLIndefinite, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*maven.Project)
	return &p, nil
}

// resolveParents walks current's parent chain, merging each ancestor's
// model into project starting with the nearest parent and moving up, and
// interpolates the result.
func (c *Maven) resolveParents(ctx context.Context, current maven.ProjectKey, project *maven.Project) error {
	visited := make(map[maven.ProjectKey]bool, MaxMavenParents)
	for n := 0; n < MaxMavenParents; n++ {
		if current.GroupID == "" || current.ArtifactID == "" || current.Version == "" {
			break
		}
		if visited[current] {
			return errors.New("a cycle of Maven parents is detected")
		}
		visited[current] = true

		proj, err := c.fetchProject(ctx, current)
		if err != nil {
			if kind, ok := engineerr.KindOf(err); ok && kind == engineerr.NotFound {
				break
			}
			return err
		}
		if err := proj.MergeProfiles("", maven.ActivationOS{}); err != nil {
			return err
		}
		project.MergeParent(*proj)
		current = proj.Parent.ProjectKey
	}
	return project.Interpolate()
}

// effectiveProject builds the fully merged, interpolated model for pk,
// including dependencyManagement imports and parent inheritance.
func (c *Maven) effectiveProject(ctx context.Context, pk maven.ProjectKey) (*maven.Project, error) {
	project, err := c.fetchProject(ctx, pk)
	if err != nil {
		return nil, err
	}
	if err := project.MergeProfiles("", maven.ActivationOS{}); err != nil {
		return nil, err
	}
	if err := c.resolveParents(ctx, project.Parent.ProjectKey, project); err != nil {
		return nil, err
	}
	project.ProcessDependencies(func(group, artifact, v maven.String) (maven.DependencyManagement, error) {
		dpk := maven.ProjectKey{GroupID: group, ArtifactID: artifact, Version: v}
		dm, err := c.fetchProject(ctx, dpk)
		if err != nil {
			return maven.DependencyManagement{}, err
		}
		if err := c.resolveParents(ctx, dm.Parent.ProjectKey, dm); err != nil {
			return maven.DependencyManagement{}, err
		}
		return dm.DependencyManagement, nil
	})
	return project, nil
}

// Versions implements resolve.Client by reading the artifact's
// maven-metadata.xml.
func (c *Maven) Versions(ctx context.Context, pk resolve.PackageKey) ([]resolve.Version, error) {
	key := "maven:metadata:" + pk.Name
	v, err := c.Cache.Get(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		p, err := metadataPath(pk)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.ConfigError, "maven", pk.Name, err)
		}
		resp, err := c.HTTP.GetMetadata(ctx, c.BaseURL+"/"+p)
		if err != nil {
			return nil, 0, engineerr.New(engineerr.Transient, "maven", pk.Name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, 0, engineerr.Newf(engineerr.NotFound, "maven", pk.Name, "artifact not found")
		}
		if resp.StatusCode != 200 {
			return nil, 0, engineerr.Newf(engineerr.ProtocolError, "maven", pk.Name, "metadata fetch: %s", resp.Status)
		}
		var md maven.Metadata
		if err := xml.NewDecoder(resp.Body).Decode(&md); err != nil {
			return nil, 0, engineerr.New(engineerr.ProtocolError, "maven", pk.Name, err)
		}
		return &md, cache.DefaultTTL, nil
	})
	if err != nil {
		return nil, err
	}
	md := v.(*maven.Metadata)
	var out []resolve.Version
	for _, ver := range md.Versioning.Versions {
		out = append(out, resolve.Version{VersionKey: resolve.VersionKey{
			PackageKey:  pk,
			VersionType: resolve.Concrete,
			Version:     string(ver),
		}})
	}
	resolve.SortVersions(out)
	return out, nil
}

// Version implements resolve.Client.
func (c *Maven) Version(ctx context.Context, vk resolve.VersionKey) (resolve.Version, error) {
	pk, err := maven.MakeProjectKey(vk.Name, vk.Version)
	if err != nil {
		return resolve.Version{}, engineerr.New(engineerr.ConfigError, "maven", vk.String(), err)
	}
	if _, err := c.fetchProject(ctx, pk); err != nil {
		return resolve.Version{}, err
	}
	return resolve.Version{VersionKey: vk}, nil
}

// Requirements implements resolve.Client, building the effective POM model
// and emitting both direct dependencies and dependency-management entries
// (tagged with dep.MavenDependencyOrigin="management") for the resolver to
// consult when filling in missing version requirements.
func (c *Maven) Requirements(ctx context.Context, vk resolve.VersionKey) ([]resolve.RequirementVersion, error) {
	pk, err := maven.MakeProjectKey(vk.Name, vk.Version)
	if err != nil {
		return nil, engineerr.New(engineerr.ConfigError, "maven", vk.String(), err)
	}
	project, err := c.effectiveProject(ctx, pk)
	if err != nil {
		return nil, err
	}
	var out []resolve.RequirementVersion
	for _, d := range project.Dependencies {
		out = append(out, mavenRequirementVersion(d, ""))
	}
	for _, d := range project.DependencyManagement.Dependencies {
		out = append(out, mavenRequirementVersion(d, "management"))
	}
	resolve.SortDependencies(out)
	return out, nil
}

// mavenRequirementVersion converts a parsed maven.Dependency into a
// RequirementVersion, carrying scope/classifier/type/exclusions/origin as
// dep.Type attributes the same way the resolver's packageKeyForDependency
// and imports logic expect.
func mavenRequirementVersion(d maven.Dependency, origin string) resolve.RequirementVersion {
	t := dep.NewType()
	if d.Optional.Boolean() {
		t.AddAttr(dep.Opt, "")
	}
	if d.Scope == "test" {
		t.AddAttr(dep.Test, "")
	} else if d.Scope != "" && d.Scope != "compile" {
		t.AddAttr(dep.Scope, string(d.Scope))
	}
	if d.Type != "" && d.Type != "jar" {
		t.AddAttr(dep.MavenArtifactType, string(d.Type))
	}
	if d.Classifier != "" {
		t.AddAttr(dep.MavenClassifier, string(d.Classifier))
	}
	if len(d.Exclusions) > 0 {
		t.AddAttr(dep.MavenExclusions, d.ExclusionsString())
	}
	if origin != "" {
		t.AddAttr(dep.MavenDependencyOrigin, origin)
	}
	return resolve.RequirementVersion{
		VersionKey: resolve.VersionKey{
			PackageKey:  resolve.PackageKey{Kind: resolve.Maven, Name: d.Name()},
			VersionType: resolve.Requirement,
			Version:     string(d.Version),
		},
		Type: t,
	}
}

// MatchingVersions implements resolve.Client.
func (c *Maven) MatchingVersions(ctx context.Context, vk resolve.VersionKey) ([]resolve.Version, error) {
	all, err := c.Versions(ctx, vk.PackageKey)
	if err != nil {
		return nil, err
	}
	return resolve.MatchRequirement(vk, all), nil
}

// FetchBlob streams the jar/war/pom artifact at url.
func (c *Maven) FetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.HTTP.GetBlob(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, engineerr.Newf(engineerr.Transient, "maven", url, "fetch blob: %s", resp.Status)
	}
	return resp.Body, nil
}

// ArtifactURL builds the URL for a jar/classifier artifact of pk/version
// under this client's repository.
func (c *Maven) ArtifactURL(pk resolve.PackageKey, ver, classifier, ext string) (string, error) {
	projKey, err := maven.MakeProjectKey(pk.Name, ver)
	if err != nil {
		return "", err
	}
	group := strings.ReplaceAll(string(projKey.GroupID), ".", "/")
	fn := string(projKey.ArtifactID) + "-" + ver
	if classifier != "" {
		fn += "-" + classifier
	}
	if ext == "" {
		ext = "jar"
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", c.BaseURL, group, projKey.ArtifactID, ver, fn, ext), nil
}

// Candidates returns the single primary artifact the effective POM's
// packaging declares. Packaging "pom" is metadata-only (a BOM or parent
// aggregator) and produces no downloadable artifact, so it is reported
// as an empty candidate set rather than synthesizing a .pom download
// here.
func (c *Maven) Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error) {
	pk, err := maven.MakeProjectKey(vk.Name, vk.Version)
	if err != nil {
		return nil, engineerr.New(engineerr.ConfigError, "maven", vk.String(), err)
	}
	project, err := c.effectiveProject(ctx, pk)
	if err != nil {
		return nil, err
	}
	packaging := string(project.Packaging)
	if packaging == "" {
		packaging = "jar"
	}
	if packaging == "pom" {
		return nil, nil
	}
	u, err := c.ArtifactURL(vk.PackageKey, vk.Version, "", packaging)
	if err != nil {
		return nil, engineerr.New(engineerr.ConfigError, "maven", vk.String(), err)
	}
	fn := string(pk.ArtifactID) + "-" + vk.Version + "." + packaging
	return []selector.Candidate{{
		Version:   vk.Version,
		NotYanked: true,
		Artifact: artifact.Artifact{
			URL:      u,
			Filename: fn,
		},
	}}, nil
}

var _ resolve.Client = (*Maven)(nil)
