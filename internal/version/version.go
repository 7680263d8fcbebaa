// Package version holds build version information.
package version

// Version is the dataagent version, overridable at build time with
// -ldflags "-X github.com/dataagent-ai/dataagent/internal/version.Version=...".
var Version = "0.1.0-dev"
