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

package distro

import "testing"

func TestRPMCompareNumericSegments(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.10", "1.9", 1}, // numeric run, not lexical
	}
	for _, c := range cases {
		if got := rpmCompare(c.a, c.b); sign(got) != sign(c.want) {
			t.Errorf("rpmCompare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestRPMCompareEpoch(t *testing.T) {
	if rpmCompare("1:1.0.0", "2.0.0") <= 0 {
		t.Error("an explicit higher epoch must outrank any version without one")
	}
}

func TestRPMCompareRelease(t *testing.T) {
	if rpmCompare("1.0.0-2", "1.0.0-1") <= 0 {
		t.Error("release -2 must outrank release -1 for an equal upstream version")
	}
}

func TestRPMCompareAlphaVsDigitRun(t *testing.T) {
	if rpmCompare("1.0.1", "1.0.a") <= 0 {
		t.Error("a digit run must outrank an alpha run at the same position (1.0.1 > 1.0.a)")
	}
}

func TestRPMComparatorSatisfies(t *testing.T) {
	var c RPMComparator
	if !c.Satisfies("2.4.58-1", ">= 2.4.0") {
		t.Error("2.4.58-1 should satisfy >= 2.4.0")
	}
	if c.Satisfies("2.3.0-1", ">= 2.4.0") {
		t.Error("2.3.0-1 should not satisfy >= 2.4.0")
	}
	if !c.Satisfies("1.0.0", "1.0.0") {
		t.Error("a bare version constraint with no operator should compare by string equality")
	}
}

func TestDebComparatorOperators(t *testing.T) {
	var d DebComparator
	if !d.Satisfies("1.25.3-1", ">= 1.20.0") {
		t.Error("1.25.3-1 should satisfy >= 1.20.0")
	}
	if !d.Satisfies("1.25.3-1", "<< 2.0.0") {
		t.Error("1.25.3-1 should satisfy << 2.0.0")
	}
	if d.Satisfies("1.25.3-1", ">> 2.0.0") {
		t.Error("1.25.3-1 should not satisfy >> 2.0.0")
	}
}

func TestApkComparatorReusesRPMSatisfies(t *testing.T) {
	var a ApkComparator
	if !a.Satisfies("3.18.4-r0", ">= 3.18.0") {
		t.Error("ApkComparator should satisfy constraints via its embedded RPMComparator")
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
