// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package token

// keywords is the set of identifiers the grammar treats as reserved.
//
// The lexer still produces [Ident] tokens for these; keyword-ness only matters
// to the fragment grammar, which is lenient about it in places.
var keywords = map[string]struct{}{
	"as": {}, "async": {}, "await": {}, "break": {}, "const": {},
	"continue": {}, "crate": {}, "dyn": {}, "else": {}, "enum": {},
	"extern": {}, "false": {}, "fn": {}, "for": {}, "if": {}, "impl": {},
	"in": {}, "let": {}, "loop": {}, "match": {}, "mod": {}, "move": {},
	"mut": {}, "pub": {}, "ref": {}, "return": {}, "self": {}, "Self": {},
	"static": {}, "struct": {}, "super": {}, "trait": {}, "true": {},
	"type": {}, "unsafe": {}, "use": {}, "where": {}, "while": {},
}

// IsKeyword returns whether text is a reserved word.
func IsKeyword(text string) bool {
	_, ok := keywords[text]
	return ok
}
