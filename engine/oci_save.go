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
	"archive/tar"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/offlinedeps/aggregator/engineerr"
)

// SaveOCIImage fetches the config and layer blobs of the image manifest
// named by imageRef ("repo@digest", already platform-resolved by the
// Candidate Selector) and writes them to outPath as an OCI image layout
// tarball: oci-layout, index.json, and a blobs/sha256/ directory holding
// the manifest, config, and every layer, addressed by content digest.
//
// This is the download path for the OCI ecosystem in place of the
// Download Scheduler: an image is a blob graph, not a single file, so it
// is fetched through the registry client's SelectManifest/FetchBlob pair
// rather than scheduler.Item.
func (e *Engine) SaveOCIImage(ctx context.Context, imageRef, outPath string) (string, error) {
	repo, reference := splitOCIRef(imageRef)
	_, manifest, err := e.ociClient.SelectManifest(ctx, repo, reference, "", "")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	defer tw.Close()

	configData, err := e.fetchVerifiedBlob(ctx, repo, manifest.Config)
	if err != nil {
		return "", err
	}
	layerData := make([][]byte, len(manifest.Layers))
	for i, l := range manifest.Layers {
		data, err := e.fetchVerifiedBlob(ctx, repo, l)
		if err != nil {
			return "", err
		}
		layerData[i] = data
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	manifestDigest := digest.FromBytes(manifestBytes)

	idx := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      int64(len(manifestBytes)),
		}},
	}
	idxBytes, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}
	layoutBytes, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return "", err
	}

	if err := writeTarEntry(tw, "oci-layout", layoutBytes); err != nil {
		return "", err
	}
	if err := writeTarEntry(tw, "index.json", idxBytes); err != nil {
		return "", err
	}
	if err := writeTarEntry(tw, "blobs/sha256/"+manifestDigest.Encoded(), manifestBytes); err != nil {
		return "", err
	}
	if err := writeTarEntry(tw, "blobs/sha256/"+manifest.Config.Digest.Encoded(), configData); err != nil {
		return "", err
	}
	for i, l := range manifest.Layers {
		if err := writeTarEntry(tw, "blobs/sha256/"+l.Digest.Encoded(), layerData[i]); err != nil {
			return "", err
		}
	}

	return outPath, nil
}

// fetchVerifiedBlob fetches the blob named by d from repo and confirms its
// content digest matches d.Digest, surfacing a ChecksumMismatch rather
// than silently trusting a truncated or substituted transfer.
func (e *Engine) fetchVerifiedBlob(ctx context.Context, repo string, d ocispec.Descriptor) ([]byte, error) {
	rc, err := e.ociClient.FetchBlob(ctx, repo, d.Digest.String())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, engineerr.New(engineerr.Transient, "oci", repo, err)
	}
	if got := digest.FromBytes(data); got != d.Digest {
		return nil, engineerr.Newf(engineerr.ChecksumMismatch, "oci", repo, "blob %s: got digest %s", d.Digest, got)
	}
	return data, nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
