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

package distro

import "strings"

// DebComparator implements Comparator for dpkg's epoch:upstream-revision
// versions by reusing the rpm-style segment comparator, since both
// alternate numeric and non-numeric runs; only the deb-specific relational
// operators (<<, >>) differ. dpkg's rule that '~' sorts before the end of
// a version is not applied: '~' is skipped as a separator.
type DebComparator struct{}

// Satisfies reports whether candidate satisfies a constraint of the form
// "<op> <version>", where op is one of >=, <=, =, <<, >>.
func (DebComparator) Satisfies(candidate, constraint string) bool {
	op, ver, ok := splitDebConstraint(constraint)
	if !ok {
		return candidate == constraint
	}
	c := rpmCompare(candidate, ver)
	switch op {
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	case "=":
		return c == 0
	case "<<":
		return c < 0
	case ">>":
		return c > 0
	}
	return false
}

func splitDebConstraint(constraint string) (op, ver string, ok bool) {
	constraint = strings.TrimSpace(constraint)
	for _, candidate := range []string{">=", "<=", "<<", ">>", "="} {
		if rest, found := strings.CutPrefix(constraint, candidate); found {
			return candidate, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

// ApkComparator implements Comparator for apk's version scheme by reusing
// the rpm-style segment comparator and rpm's >=/<=/=/</> operators. apk's
// suffix ordering is not applied: "_alpha", "_beta", "_rc" and "_p" are
// compared as ordinary alpha runs after the '_' separator, so "1.0_alpha"
// sorts after "1.0".
type ApkComparator struct{ RPMComparator }
