// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"net/url"
	"strconv"
	"strings"
)

// splitPath returns the non-empty segments of a slash separated path.
func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// joinPath returns the human readable path of segments.
func joinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

// escapePath returns the escaped path of segments, "/" for the root.
func escapePath(segments []string) string {
	escaped := make([]string, 0, len(segments))
	for _, seg := range segments {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return "/" + strings.Join(escaped, "/")
}

// isPrefix returns whether prefix is a prefix of segments.
func isPrefix(prefix, segments []string) bool {
	if len(prefix) > len(segments) {
		return false
	}
	for idx, seg := range prefix {
		if segments[idx] != seg {
			return false
		}
	}
	return true
}

// childSegments returns segments extended with the segments of path
// without aliasing the original slice.
func childSegments(segments []string, path string) []string {
	out := make([]string, 0, len(segments)+1)
	out = append(out, segments...)
	return append(out, splitPath(path)...)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
