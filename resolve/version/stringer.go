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

package version

import "strconv"

var attrKeyNames = map[AttrKey]string{
	Blocked: "Blocked",
	Deleted: "Deleted",
	Error:   "Error",

	Redirect:            "Redirect",
	Features:            "Features",
	DerivedFrom:         "DerivedFrom",
	NativeLibrary:       "NativeLibrary",
	Registries:          "Registries",
	SupportedFrameworks: "SupportedFrameworks",
	DependencyGroups:    "DependencyGroups",
	Ident:               "Ident",
	Created:             "Created",
	Tags:                "Tags",
	CondaChannel:        "CondaChannel",
	CondaBuildNumber:    "CondaBuildNumber",
	DistroEpoch:         "DistroEpoch",
	OCIDigest:           "OCIDigest",
}

// String returns the name of the AttrKey constant, or its numeric value if
// it is not one of the known constants.
func (k AttrKey) String() string {
	if s, ok := attrKeyNames[k]; ok {
		return s
	}
	return "AttrKey(" + strconv.Itoa(int(k)) + ")"
}
