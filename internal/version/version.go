// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version holds the release version of the module and the client
// name it announces to ElectrumX servers.
package version

import (
	"fmt"
	"strings"
)

// Semantic versioning 2.0.0 (https://semver.org/) components of the release.
const (
	Major uint = 0
	Minor uint = 3
	Patch uint = 0
)

// AppName is the client software name sent in server.version.
const AppName = "electrumx-go"

var (
	// PreRelease may be overridden at build time with
	// '-ldflags "-X github.com/btcsuite/electrumx/internal/version.PreRelease=rc1"'.
	// Characters outside [0-9A-Za-z-] are dropped.
	PreRelease = "beta"

	// BuildMetadata may be overridden at build time the same way.
	// Characters outside [0-9A-Za-z-.] are dropped.
	BuildMetadata = ""
)

// String returns the semantic version, for example 0.3.0-beta+abc.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if pre := filter(PreRelease, false); pre != "" {
		v += "-" + pre
	}
	if build := filter(BuildMetadata, true); build != "" {
		v += "+" + build
	}
	return v
}

// ClientName returns the name announced as the first server.version
// parameter, for example "electrumx-go 0.3.0-beta".  A non-empty suffix,
// such as a wallet address, is appended after a space.
func ClientName(suffix string) string {
	name := AppName + " " + String()
	if suffix = strings.TrimSpace(suffix); suffix != "" {
		name += " " + suffix
	}
	return name
}

// filter strips characters not permitted in a pre-release identifier, or
// in build metadata when build is true.
func filter(s string, build bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z', r == '-':
			return r
		case build && r == '.':
			return r
		}
		return -1
	}, s)
}
