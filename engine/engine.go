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

package engine

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/offlinedeps/aggregator/cache"
	"github.com/offlinedeps/aggregator/engineerr"
	"github.com/offlinedeps/aggregator/platform"
	"github.com/offlinedeps/aggregator/registry"
	"github.com/offlinedeps/aggregator/resolve"
	"github.com/offlinedeps/aggregator/resolve/conda"
	"github.com/offlinedeps/aggregator/resolve/distro"
	"github.com/offlinedeps/aggregator/resolve/maven"
	"github.com/offlinedeps/aggregator/resolve/npm"
	"github.com/offlinedeps/aggregator/resolve/oci"
	"github.com/offlinedeps/aggregator/resolve/pypi"
	"github.com/offlinedeps/aggregator/scheduler"
	"github.com/offlinedeps/aggregator/selector"
)

// RepoConfig carries the per-ecosystem repository coordinates a Config
// needs to construct registry clients: channels, codenames, registry
// hosts, and so on. Ecosystems not referenced by any PackageRef in a
// given Resolve call never need their RepoConfig fields populated.
type RepoConfig struct {
	CondaChannel string
	CondaSubdirs []string

	AptBaseURL   string
	AptCodename  string
	AptComponent string

	YumBaseURL string

	ApkBaseURL string

	OCIRegistry string
}

// Config configures an Engine at construction time: the CommonOptions
// whose CacheDir and Concurrency New reads to build the cache and the
// download scheduler (Resolve takes its own Options and does not fall
// back to these), an optional logger and HTTP client override (the latter
// a test hook), and the repository coordinates for the distro/conda/OCI
// ecosystems.
type Config struct {
	Options
	Logger     logrus.FieldLogger
	HTTPClient *http.Client
	Repos      RepoConfig
}

// Engine wires the eight ecosystem resolvers, their registry clients, one
// shared metadata cache, and the download scheduler into a single
// long-lived value constructed once per process, per the "eight
// singletons" guidance: construct once, hold as fields, pass explicitly,
// avoid process-global mutable state.
type Engine struct {
	cfg       Config
	cache     *cache.Cache
	http      *registry.HTTPClient
	scheduler *scheduler.Scheduler
	log       logrus.FieldLogger

	clients   map[resolve.Kind]resolve.Client
	resolvers map[resolve.Kind]resolve.Resolver

	pypiClient  *registry.PyPI
	condaClient *registry.Conda
	npmClient   *registry.NPM
	mavenClient *registry.Maven
	yumClient   *registry.YUM
	aptClient   *registry.APT
	apkClient   *registry.APK
	ociClient   *registry.OCI
}

// New constructs an Engine, wiring every registry client and resolver
// once. Ecosystems whose RepoConfig fields are left zero still construct
// (with empty channel/codename/registry defaults) and are not checked
// later either: a Resolve call against one of those ecosystems fails only
// when its registry client's requests to the incomplete location fail,
// with that client's error. A process may thus resolve npm/PyPI/Maven
// only and never touch conda or OCI.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	httpClient := registry.NewHTTPClient(0)

	cacheOpts := []cache.Option{cache.WithLogger(log.WithField("component", "cache"))}
	if cfg.CacheDir != "" {
		cacheOpts = append(cacheOpts, cache.WithDisk(cfg.CacheDir))
	}
	c := cache.New(cacheOpts...)

	e := &Engine{
		cfg:   cfg,
		cache: c,
		http:  httpClient,
		log:   log,
	}

	e.pypiClient = registry.NewPyPI(httpClient, c)
	e.npmClient = registry.NewNPM(httpClient, c)
	e.mavenClient = registry.NewMaven(httpClient, c)
	e.condaClient = registry.NewConda(httpClient, c, cfg.Repos.CondaChannel, cfg.Repos.CondaSubdirs...)
	e.yumClient = registry.NewYUM(httpClient, c, cfg.Repos.YumBaseURL, "")
	e.aptClient = registry.NewAPT(httpClient, c, cfg.Repos.AptBaseURL, cfg.Repos.AptCodename, cfg.Repos.AptComponent, "")
	e.apkClient = registry.NewAPK(httpClient, c, cfg.Repos.ApkBaseURL, "")
	e.ociClient = registry.NewOCI(httpClient, c, cfg.Repos.OCIRegistry)

	e.clients = map[resolve.Kind]resolve.Client{
		resolve.PyPI:  e.pypiClient,
		resolve.NPM:   e.npmClient,
		resolve.Maven: e.mavenClient,
		resolve.Conda: e.condaClient,
		resolve.YUM:   e.yumClient,
		resolve.APT:   e.aptClient,
		resolve.APK:   e.apkClient,
		resolve.OCI:   e.ociClient,
	}

	e.resolvers = map[resolve.Kind]resolve.Resolver{
		resolve.PyPI:  pypi.NewResolver(e.pypiClient),
		resolve.NPM:   npm.NewResolver(e.npmClient),
		resolve.Maven: maven.NewResolver(e.mavenClient),
		resolve.Conda: conda.NewResolver(e.condaClient),
		resolve.YUM:   distro.NewResolver(resolve.YUM, e.yumClient, distro.RPMComparator{}),
		resolve.APT:   distro.NewResolver(resolve.APT, e.aptClient, distro.DebComparator{}),
		resolve.APK:   distro.NewResolver(resolve.APK, e.apkClient, distro.ApkComparator{}),
		resolve.OCI:   oci.NewResolver(e.ociClient),
	}

	schedHTTP := cfg.HTTPClient
	if schedHTTP == nil {
		schedHTTP = &http.Client{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultOptions().Concurrency
	}
	e.scheduler = scheduler.New(schedHTTP, concurrency, log)

	return e
}

// candidateSource is implemented by every registry client beyond the
// resolve.Client contract: it surfaces the per-artifact detail (files,
// hashes, platform tags) the Candidate Selector needs, which the bare
// Version/Versions/Requirements/MatchingVersions interface does not
// expose.
type candidateSource interface {
	Candidates(ctx context.Context, vk resolve.VersionKey) ([]selector.Candidate, error)
}

// rootResult is one root PackageRef's resolution, before cross-root
// conflict reconciliation.
type rootResult struct {
	ref   PackageRef
	graph *resolve.Graph
	err   *engineerr.Error
}

// Resolve runs the full Resolve → Select → Download pipeline for refs
// against target, using opts (falling back to e.cfg.Options field by
// field where opts leaves a field at its zero value is the caller's
// responsibility — opts is taken as given). Each root PackageRef resolves
// concurrently via errgroup, joining on the Engine's shared cache and HTTP
// clients; the resulting per-root graphs are merged, cross-root version
// conflicts are recorded, and the combined node set is run through the
// Candidate Selector and the Download Scheduler.
func (e *Engine) Resolve(ctx context.Context, refs []PackageRef, target Target, opts Options) (*Result, error) {
	runID := uuid.NewString()
	log := e.log.WithField("run_id", runID)
	log.WithField("roots", len(refs)).Info("resolve started")
	results := make([]rootResult, len(refs))

	ctx = platform.WithTarget(ctx, target)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(opts.Concurrency, 1))
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			graph, err := e.resolveRoot(gctx, ref, opts)
			results[i] = rootResult{ref: ref, graph: graph, err: err}
			return nil
		})
	}
	_ = g.Wait() // per-root errors are recorded as FailureRecords, never aborting siblings

	res := &Result{}
	chosen := make(map[resolve.PackageKey]resolve.VersionKey)
	var allNodes []resolve.VersionKey

	for _, rr := range results {
		pk := resolve.PackageKey{Kind: rr.ref.Kind, Name: rr.ref.Name}
		if rr.err != nil {
			res.Failures = append(res.Failures, FailureRecord{
				PackageKey: pk,
				Kind:       string(rr.err.Kind),
				Message:    rr.err.Error(),
				Optional:   rr.err.Optional,
			})
			continue
		}
		if rr.graph == nil || len(rr.graph.Nodes) == 0 {
			continue
		}
		if res.Graph == nil {
			res.Graph = rr.graph
		} else {
			res.Graph = mergeGraphs(res.Graph, rr.graph)
		}
		for _, n := range rr.graph.Nodes {
			allNodes = append(allNodes, n.Version)
			if prior, ok := chosen[n.Version.PackageKey]; ok && prior.Version != n.Version.Version {
				res.Conflicts = append(res.Conflicts, ConflictRecord{
					PackageKey:     n.Version.PackageKey,
					RequestedSpecs: []string{prior.Version, n.Version.Version},
					ChosenVersion:  prior.Version,
					Rule:           FirstDeclaration,
				})
				continue
			}
			chosen[n.Version.PackageKey] = n.Version
		}
	}

	resolved, selErrs := e.selectArtifacts(gctx, dedupeVersionKeys(allNodes), target, refs, opts)
	res.Failures = append(res.Failures, selErrs...)

	downloaded := e.downloadArtifacts(gctx, resolved, opts)
	res.Flat = downloaded

	log.WithField("resolved", len(res.Flat)).WithField("failures", len(res.Failures)).Info("resolve finished")
	return res, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// dedupeVersionKeys returns ks with duplicate (PackageKey, Version) pairs
// collapsed, since the same transitive package commonly appears under
// more than one root's graph.
func dedupeVersionKeys(ks []resolve.VersionKey) []resolve.VersionKey {
	seen := make(map[resolve.VersionKey]bool, len(ks))
	var out []resolve.VersionKey
	for _, k := range ks {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// mergeGraphs combines b into a, offsetting b's node IDs past a's. It is a
// simple concatenation, not a canonicalization: cross-root edges are never
// introduced, since each root resolved independently against its own
// closure.
func mergeGraphs(a, b *resolve.Graph) *resolve.Graph {
	offset := len(a.Nodes)
	merged := &resolve.Graph{
		Nodes:    append(append([]resolve.Node{}, a.Nodes...), b.Nodes...),
		Duration: a.Duration + b.Duration,
	}
	merged.Edges = append(append([]resolve.Edge{}, a.Edges...), offsetEdges(b.Edges, offset)...)
	if a.Error != "" || b.Error != "" {
		merged.Error = a.Error + b.Error
	}
	return merged
}

func offsetEdges(edges []resolve.Edge, offset int) []resolve.Edge {
	out := make([]resolve.Edge, len(edges))
	for i, e := range edges {
		e.From += resolve.NodeID(offset)
		e.To += resolve.NodeID(offset)
		out[i] = e
	}
	return out
}

// resolveRoot resolves a single PackageRef to a Graph, translating the
// ref's version spec into the VersionKey the ecosystem's resolver expects.
func (e *Engine) resolveRoot(ctx context.Context, ref PackageRef, opts Options) (*resolve.Graph, *engineerr.Error) {
	resolver, ok := e.resolvers[ref.Kind]
	if !ok {
		return nil, engineerr.Newf(engineerr.ConfigError, ref.Kind.String(), ref.Name, "no resolver registered for ecosystem")
	}
	// classifier selection (Maven) happens later, against Candidates, not here.
	vk := resolve.VersionKey{
		PackageKey:  resolve.PackageKey{Kind: ref.Kind, Name: ref.Name},
		VersionType: resolve.Requirement,
		Version:     ref.VersionSpec,
	}
	graph, err := resolver.Resolve(ctx, vk)
	if err != nil {
		if ee, ok := err.(*engineerr.Error); ok {
			return nil, ee
		}
		return nil, engineerr.New(engineerr.ProtocolError, ref.Kind.String(), ref.Name, err)
	}
	if graph.Error != "" {
		return graph, engineerr.Newf(engineerr.VersionUnsatisfiable, ref.Kind.String(), ref.Name, "%s", graph.Error)
	}
	return graph, nil
}

// selectArtifacts runs the Candidate Selector over every resolved
// version, producing one ResolvedPackage per node that found a compatible
// artifact, and one FailureRecord per node that did not.
func (e *Engine) selectArtifacts(ctx context.Context, nodes []resolve.VersionKey, target Target, refs []PackageRef, opts Options) ([]ResolvedPackage, []FailureRecord) {
	classifierFor := make(map[resolve.PackageKey]string)
	for _, r := range refs {
		if r.Classifier != "" {
			classifierFor[resolve.PackageKey{Kind: r.Kind, Name: r.Name}] = r.Classifier
		}
	}

	var (
		mu       sync.Mutex
		resolved []ResolvedPackage
		failures []FailureRecord
	)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxInt(opts.Concurrency, 1))
	for _, vk := range nodes {
		vk := vk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rp, ferr := e.selectOne(ctx, vk, target, classifierFor[vk.PackageKey], opts)
			mu.Lock()
			defer mu.Unlock()
			if ferr != nil {
				failures = append(failures, *ferr)
				return
			}
			if rp != nil {
				resolved = append(resolved, *rp)
			}
		}()
	}
	wg.Wait()
	return resolved, failures
}

func (e *Engine) selectOne(ctx context.Context, vk resolve.VersionKey, target Target, classifier string, opts Options) (*ResolvedPackage, *FailureRecord) {
	src, ok := e.clients[vk.Kind].(candidateSource)
	if !ok {
		return nil, &FailureRecord{PackageKey: vk.PackageKey, Kind: string(engineerr.ConfigError), Message: "ecosystem has no candidate source"}
	}
	candidates, err := src.Candidates(ctx, vk)
	if err != nil {
		return nil, failureFrom(vk.PackageKey, err)
	}
	if len(candidates) == 0 {
		return nil, nil // metadata-only (e.g. a Maven BOM) — not an error.
	}

	var chosen selector.Candidate
	var selErr error
	switch vk.Kind {
	case resolve.PyPI:
		chosen, selErr = selector.SelectPyPI(vk.Name, vk.Version, candidates, target.WheelTags(), opts.PreferBinary)
	case resolve.Conda:
		pyTag := ""
		chosen, selErr = selector.SelectConda(vk.Name, vk.Version, candidates, target.CondaSubdir(), pyTag)
	case resolve.NPM:
		chosen, selErr = selector.SelectNPM(vk.Name, vk.Version, candidates)
	case resolve.Maven:
		chosen, selErr = selector.SelectMaven(vk.Name, vk.Version, candidates, classifier)
	case resolve.YUM:
		chosen, selErr = selector.SelectDistro(vk.Name, vk.Version, candidates, target.RepoArch("yum"))
	case resolve.APT:
		chosen, selErr = selector.SelectDistro(vk.Name, vk.Version, candidates, target.RepoArch("apt"))
	case resolve.APK:
		chosen, selErr = selector.SelectDistro(vk.Name, vk.Version, candidates, target.RepoArch("apk"))
	case resolve.OCI:
		chosen, selErr = selector.SelectOCI(vk.Name, vk.Version, candidates, target.DockerOS(), target.DockerArch())
	default:
		return nil, &FailureRecord{PackageKey: vk.PackageKey, Kind: string(engineerr.ConfigError), Message: "unknown ecosystem"}
	}
	if selErr != nil {
		if nca, ok := selErr.(*selector.NoCompatibleArtifact); ok {
			return nil, failureFrom(vk.PackageKey, selector.ToEngineError(vk.Kind.String(), nca))
		}
		return nil, failureFrom(vk.PackageKey, selErr)
	}

	art := chosen.Artifact
	return &ResolvedPackage{
		Kind:         vk.Kind,
		Name:         vk.Name,
		ExactVersion: vk.Version,
		Architecture: chosen.Subdir,
		Classifier:   classifier,
		BuildString:  firstTag(chosen.Tags),
		Artifact:     &art,
	}, nil
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func failureFrom(pk resolve.PackageKey, err error) *FailureRecord {
	if ee, ok := err.(*engineerr.Error); ok {
		return &FailureRecord{PackageKey: pk, Kind: string(ee.Kind), Message: ee.Error(), Optional: ee.Optional}
	}
	return &FailureRecord{PackageKey: pk, Kind: string(engineerr.ProtocolError), Message: err.Error()}
}

// splitOCIRef splits a "repo@reference" string as produced by the OCI
// registry client's Versions/Candidates methods.
func splitOCIRef(s string) (repo, reference string) {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, "latest"
}

// sanitizeOCIName replaces path and tag separators with underscores so an
// image reference is safe to use as a filename component.
func sanitizeOCIName(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return r.Replace(s)
}

// downloadArtifacts hands every selected artifact to the Download
// Scheduler (OCI images excepted, since an OCI artifact is a blob graph
// rather than a single file — see SaveOCIImage), then stamps each
// ResolvedPackage's FilePath from the scheduler's result.
func (e *Engine) downloadArtifacts(ctx context.Context, resolved []ResolvedPackage, opts Options) []ResolvedPackage {
	outputDir := opts.OutputDir
	byID := make(map[string]*ResolvedPackage, len(resolved))
	var items []scheduler.Item
	var ociPackages []int

	for i := range resolved {
		rp := &resolved[i]
		if rp.Artifact == nil {
			continue
		}
		if rp.Kind == resolve.OCI {
			ociPackages = append(ociPackages, i)
			continue
		}
		id := rp.Kind.String() + ":" + rp.Name + "@" + rp.ExactVersion
		byID[id] = rp
		items = append(items, scheduler.Item{
			ID:       id,
			URL:      rp.Artifact.URL,
			Filename: rp.Artifact.Filename,
			Checksum: rp.Artifact.Checksum,
			HasSum:   rp.Artifact.HasChecksum,
		})
	}

	if len(items) > 0 {
		result := e.scheduler.Download(ctx, items, outputDir, scheduler.NopSink{})
		for _, s := range result.Success {
			if rp, ok := byID[s.ItemID]; ok {
				rp.FilePath = s.FilePath
			}
		}
		for _, f := range result.Failed {
			if rp, ok := byID[f.ItemID]; ok {
				rp.FilePath = ""
				e.log.WithField("package", rp.Name).WithError(f.Err).Warn("artifact download failed")
			}
		}
	}

	for _, i := range ociPackages {
		rp := &resolved[i]
		repo, reference := splitOCIRef(rp.ExactVersion)
		outFile := sanitizeOCIName(repo) + "-" + sanitizeOCIName(reference) + ".tar"
		path, err := e.SaveOCIImage(ctx, rp.Artifact.URL, filepath.Join(outputDir, outFile))
		if err != nil {
			e.log.WithField("package", rp.Name).WithError(err).Warn("oci image save failed")
			continue
		}
		rp.FilePath = path
	}

	return resolved
}
