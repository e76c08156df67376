// Package version carries build metadata stamped in with -ldflags, for example
// -X github.com/WhyNeet/t3-chat-clone/internal/version.Commit=$(git rev-parse HEAD).
package version

import "fmt"

var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// FullInfo renders every build field on one line for logs and `chatd version`.
func FullInfo() string {
	return fmt.Sprintf("chatd %s (commit %s, built %s)", Version, Commit, BuiltAt)
}
