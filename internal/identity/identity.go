// Package identity derives a package identity from an APK file name.
//
// Names of the form <name>-[v]<major>.<minor>.<patch>[-build<N>].apk are split
// into their parts. Any other name still yields an identity: the whole stem
// becomes the display name and the version falls back to 0.0.0.
package identity

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// FallbackVersion is used when a file name carries no recognisable version.
const FallbackVersion = "0.0.0"

var (
	filenamePattern = regexp.MustCompile(`(?i)^(.+?)-v?(\d+\.\d+\.\d+)(?:-build(\d+))?\.apk$`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Identity is the parsed form of an APK file name.
type Identity struct {
	DisplayName string
	Version     string
	// Build is the raw build suffix, nil when the name has none.
	Build       *string
	VersionCode int64
	PackageKey  string
}

// Parse never fails. Callers filter on the .apk extension before calling it.
func Parse(filename string) Identity {
	if m := filenamePattern.FindStringSubmatch(filename); m != nil {
		id := Identity{
			DisplayName: m[1],
			Version:     m[2],
			PackageKey:  PackageKey(m[1]),
		}
		if m[3] != "" {
			build := m[3]
			id.Build = &build
			// Build numbers too large for int64 keep the raw suffix but code 0.
			if code, err := strconv.ParseInt(m[3], 10, 64); err == nil {
				id.VersionCode = code
			}
		}
		return id
	}

	name := stripAPKSuffix(filename)
	return Identity{
		DisplayName: name,
		Version:     FallbackVersion,
		PackageKey:  PackageKey(name),
	}
}

// PackageKey normalises a display name: lower case, whitespace runs replaced by ".".
func PackageKey(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(name), ".")
}

// HasAPKExtension reports whether name ends in .apk, ignoring case.
func HasAPKExtension(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".apk")
}

// ParseVersion parses a cataloged version string. It returns nil for the
// fallback version and anything go-version cannot read.
func ParseVersion(s string) *version.Version {
	if s == FallbackVersion {
		return nil
	}
	v, err := version.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}

func stripAPKSuffix(name string) string {
	if HasAPKExtension(name) {
		return name[:len(name)-len(".apk")]
	}
	return name
}
