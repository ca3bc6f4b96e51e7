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

package maven

import (
	"encoding/xml"
	"strings"
)

// FalsyBool is a POM boolean field that defaults to false when absent, as
// Maven does for <optional> and <activeByDefault>.
type FalsyBool string

// UnmarshalXML trims whitespace and lowercases the element text, as
// BoolString does.
func (fb *FalsyBool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var bs BoolString
	if err := bs.UnmarshalXML(d, start); err != nil {
		return err
	}
	*fb = FalsyBool(bs)
	return nil
}

func (fb *FalsyBool) merge(parent FalsyBool) {
	if *fb == "" {
		*fb = parent
	}
}

func (fb *FalsyBool) interpolate(properties map[string]string) bool {
	bs := BoolString(*fb)
	ok := bs.interpolate(properties)
	*fb = FalsyBool(bs)
	return ok
}

// Boolean reports the field's value, treating an empty or unresolved
// string as false.
func (fb FalsyBool) Boolean() bool {
	return strings.EqualFold(string(fb), "true")
}

// TruthyBool is a POM boolean field that defaults to true when absent, as
// Maven does for <enabled> repository policies and <inherited> plugin
// executions.
type TruthyBool string

// UnmarshalXML trims whitespace and lowercases the element text, as
// BoolString does.
func (tb *TruthyBool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var bs BoolString
	if err := bs.UnmarshalXML(d, start); err != nil {
		return err
	}
	*tb = TruthyBool(bs)
	return nil
}

func (tb *TruthyBool) interpolate(properties map[string]string) bool {
	bs := BoolString(*tb)
	ok := bs.interpolate(properties)
	*tb = TruthyBool(bs)
	return ok
}

// Boolean reports the field's value, treating an empty or unresolved
// string as true.
func (tb TruthyBool) Boolean() bool {
	return !strings.EqualFold(string(tb), "false")
}
