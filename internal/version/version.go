// Package version carries build metadata stamped via -ldflags.
package version

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the stamped build info on one line.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
