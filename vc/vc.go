// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information of the combine command.
package vc // import "go.opentelemetry.io/vmtrace/vc"

import "fmt"

// Set at link time with -ldflags "-X go.opentelemetry.io/vmtrace/vc.version=...".
var (
	revision       = ""
	buildTimestamp = ""
	version        = "dev"
)

// Revision is the VCS revision the binary was built from.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format, or "dev" for untagged builds.
func Version() string {
	return version
}

// Summary renders version, revision and build timestamp on one line.
func Summary() string {
	s := version
	if revision != "" {
		s += fmt.Sprintf(" (revision %s", revision)
		if buildTimestamp != "" {
			s += ", built " + buildTimestamp
		}
		s += ")"
	}
	return s
}
