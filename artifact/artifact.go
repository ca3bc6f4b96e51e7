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

// Package artifact holds the downloadable-blob data model shared by the
// registry clients, the candidate selector, and the engine, kept separate
// from package engine so the selector can describe a Candidate without
// importing the engine's orchestration package.
package artifact

// Checksum identifies a digest algorithm and its hex-encoded value.
type Checksum struct {
	Algo string // sha256, sha512, sha1, md5
	Hex  string
}

// Artifact is a single downloadable blob selected for a resolved package.
type Artifact struct {
	URL            string
	Filename       string
	SizeBytes      int64
	Checksum       Checksum
	HasChecksum    bool
	MediaType      string
	RequiresPython string
	WheelTag       string
	Subdir         string
}
