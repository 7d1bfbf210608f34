// Copyright 2017 Fortio Authors
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

// Package version holds goatling's version and build information, thin
// sugar over [fortio.org/version]'s build-info introspection (same
// shortVersion/longVersion/fullVersion burned-in-at-init split fortio's own
// version package uses, retargeted at this module's path).
package version // import "github.com/fortio-goat/goatling/version"

import (
	"fortio.org/version"
)

var (
	// The following are (re)computed in init().
	shortVersion = "dev"
	longVersion  = "unknown long"
	fullVersion  = "unknown full"
)

// Short returns the 3 digit short version string Major.Minor.Patch, or
// "dev" when not built from a tagged `go install`.
func Short() string {
	return shortVersion
}

// Long returns the long version and build information: "X.Y.Z hash go-version processor os".
func Long() string {
	return longVersion
}

// Full returns Long() plus every dependent module's version and hash.
func Full() string {
	return fullVersion
}

func init() { //nolint:gochecknoinits // burning in build info requires an init
	shortVersion, longVersion, fullVersion = version.FromBuildInfoPath("github.com/fortio-goat/goatling")
}
