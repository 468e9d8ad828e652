package server

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the current version of the broker.
const Version = "0.1.0"

// ApiVersion is the version of the polling protocol and the /api endpoints.
const ApiVersion = "0.1.0"

// versionConstraint accepts clients on the same minor API version.
var versionConstraint *semver.Constraints

func init() {
	var err error
	versionConstraint, err = semver.NewConstraint("~" + ApiVersion)
	if err != nil {
		panic(err)
	}
}

// IsVersionCompatible reports whether a client speaking version can talk to
// this broker. Invalid version strings are incompatible.
func IsVersionCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return versionConstraint.Check(v)
}
