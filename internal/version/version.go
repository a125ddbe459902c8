// Package version exposes the bridge's build version, set at link time via
// -ldflags in release builds (mirroring the teacher's pkg/version pattern).
package version

// Version is overridden at build time: -ldflags "-X github.com/crabeye/mcp-bridge/internal/version.Version=1.2.3"
var Version = "dev"

// GetVersion returns the bridge's current version string.
func GetVersion() string {
	return Version
}
