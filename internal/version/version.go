// Package version holds the release version of the lead pipeline.
package version

// Current is the release version, without a leading "v".
const Current = "0.1.0"
