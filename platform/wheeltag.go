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

package platform

import "strings"

// ParseWheelFilenameTags expands a wheel filename's compressed tag
// segment into the full set of (python, abi, platform) triples it
// declares, per the PEP 425 filename convention
// {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl,
// where each of the three dot-separated segments may itself be a
// dot-separated set of compressed tags combined as a cartesian product.
func ParseWheelFilenameTags(filename string) []string {
	name := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(name, "-")
	if len(parts) < 5 {
		return nil
	}
	pyTags := strings.Split(parts[len(parts)-3], ".")
	abiTags := strings.Split(parts[len(parts)-2], ".")
	platTags := strings.Split(parts[len(parts)-1], ".")

	var out []string
	for _, py := range pyTags {
		for _, abi := range abiTags {
			for _, plat := range platTags {
				out = append(out, py+"-"+abi+"-"+plat)
			}
		}
	}
	return out
}
