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

// Command macroexpand expands macro_rules! macros outside of a compiler.
//
// Usage:
//
//	macroexpand expand [--recursive] FILE...
//	macroexpand expand --def DEF --call CALL [--name NAME]
//	macroexpand reconcile [--out DIR] [--scope SCOPE] DIR
//	macroexpand watch DIR
//	macroexpand cache stats|clear
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
