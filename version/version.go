// Package version holds the build-time version string served by the
// `GET /version` wire contract (spec.md §6).
package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Number is the semantic version of this build, overridden at link time via
// -ldflags "-X github.com/benoitc/gaffer/version.Number=1.2.3".
var Number = "0.1.0-dev"

// Parse validates Number as a semantic version, returning an error if a
// build was stamped with a malformed value.
func Parse() (*goversion.Version, error) {
	return goversion.NewVersion(Number)
}

// String renders the version for the `/version` endpoint and logs.
func String() string {
	v, err := Parse()
	if err != nil {
		return fmt.Sprintf("%s (unparsed)", Number)
	}
	return v.String()
}
