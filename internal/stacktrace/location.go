// internal/stacktrace/location.go
package stacktrace

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Location is a file position reported by the test host.
type Location struct {
	Path string
	// Line is triage.UnknownLine when the host reported no line.
	Line int
}

// resourceRoots are tried, in order, for classpath: locations.
var resourceRoots = []string{"src/test/resources", "src/main/resources", ""}

var lineSuffixRegex = regexp.MustCompile(`:(\d+)(?::\d+)?$`)

// ResolveLocation turns a host location URL into a file path and line.
// Supported forms are file:// URLs, classpath: references resolved against the
// project's resource roots, and plain paths, each optionally followed by
// ":<line>". Runner-specific schemes such as java:test:// have no file and
// report false.
func ResolveLocation(raw, projectRoot string) (Location, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, false
	}

	loc := Location{Line: -1}
	if m := lineSuffixRegex.FindStringSubmatchIndex(raw); m != nil {
		if n, err := strconv.Atoi(raw[m[2]:m[3]]); err == nil {
			loc.Line = n
			raw = raw[:m[0]]
		}
	}
	// Some runners report "?line=12" on the URL instead.
	if i := strings.Index(raw, "?line="); i >= 0 {
		if n, err := strconv.Atoi(raw[i+len("?line="):]); err == nil {
			loc.Line = n
		}
		raw = raw[:i]
	}

	switch {
	case strings.HasPrefix(raw, "file:"):
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		loc.Path = filepath.FromSlash(path)
	case strings.HasPrefix(raw, "classpath:"):
		rel := strings.TrimPrefix(strings.TrimPrefix(raw, "classpath:"), "/")
		loc.Path = resolveClasspath(filepath.FromSlash(rel), projectRoot)
	case strings.Contains(raw, "://"):
		return Location{}, false
	default:
		path := filepath.FromSlash(raw)
		if !filepath.IsAbs(path) && projectRoot != "" {
			path = filepath.Join(projectRoot, path)
		}
		loc.Path = path
	}

	if loc.Path == "" {
		return Location{}, false
	}
	return loc, true
}

func resolveClasspath(rel, projectRoot string) string {
	for _, root := range resourceRoots {
		candidate := filepath.Join(projectRoot, root, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(projectRoot, resourceRoots[0], rel)
}
