// Copyright 2024 Canonical.

// Package version holds the version information of the running
// server.
package version

// Version describes the current version of the code being run.
type Version struct {
	GitCommit string
	Version   string
}

// VersionInfo is a variable representing the version of the currently
// executing code. Builds of the system where the version information
// is required must arrange to provide the correct values for this
// variable, typically through -ldflags.
var VersionInfo = Version{
	GitCommit: "unknown git commit",
	Version:   "unknown version",
}
