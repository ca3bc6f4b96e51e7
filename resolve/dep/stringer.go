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

package dep

import "strconv"

var attrKeyNames = map[AttrKey]string{
	Dev:  "Dev",
	Opt:  "Opt",
	Test: "Test",

	XTest:                 "XTest",
	Framework:             "Framework",
	Scope:                 "Scope",
	MavenClassifier:       "MavenClassifier",
	MavenArtifactType:     "MavenArtifactType",
	MavenDependencyOrigin: "MavenDependencyOrigin",
	MavenExclusions:       "MavenExclusions",
	EnabledDependencies:   "EnabledDependencies",
	KnownAs:               "KnownAs",
	Environment:           "Environment",
	Selector:              "Selector",
	CondaSubdir:           "CondaSubdir",
	CondaBuildString:      "CondaBuildString",
	DistroArch:            "DistroArch",
	Provides:              "Provides",
	OCIPlatform:           "OCIPlatform",
}

// String returns the name of the AttrKey constant, or its numeric value if
// it is not one of the known constants.
func (k AttrKey) String() string {
	if s, ok := attrKeyNames[k]; ok {
		return s
	}
	return "AttrKey(" + strconv.Itoa(int(k)) + ")"
}
