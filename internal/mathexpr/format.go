// Copyright 2026 Google LLC
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

package mathexpr

import "strings"

// patternTokens lists the supported date-pattern tokens, longest first so
// the replacer never splits e.g. "yyyy" into two "yy" matches.
var patternTokens = []string{
	"yyyy", "yy",
	"MM", "M",
	"dd", "d",
	"HH", "H",
	"mm", "m",
	"ss", "s",
}

var patternToGoLayout = map[string]string{
	"yyyy": "2006",
	"yy":   "06",
	"MM":   "01",
	"M":    "1",
	"dd":   "02",
	"d":    "2",
	"HH":   "15",
	"H":    "15",
	"mm":   "04",
	"m":    "4",
	"ss":   "05",
	"s":    "5",
}

// goLayoutFromPattern translates a Java/ICU-style date pattern (e.g.
// "yyyy-MM-dd") into the equivalent Go reference-time layout, matching
// the pattern vocabulary macro expressions like format(x, "yyyyMMdd")
// use.
func goLayoutFromPattern(pattern string) string {
	var sb strings.Builder
	i := 0
	for i < len(pattern) {
		matched := false
		for _, tok := range patternTokens {
			if strings.HasPrefix(pattern[i:], tok) {
				sb.WriteString(patternToGoLayout[tok])
				i += len(tok)
				matched = true
				break
			}
		}
		if !matched {
			sb.WriteByte(pattern[i])
			i++
		}
	}
	return sb.String()
}
