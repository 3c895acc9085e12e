// Package ccxmcp runs the CCExtractor caption extractor behind a small set
// of bounded, validated operations.
package ccxmcp

// Version is the ccxmcp release, set with -ldflags at build time.
var Version = "v0.1.0-dev"
