package vfs

import (
	"strings"
)

// Normalize rewrites a platform path into the virtual namespace: a
// leading drive-letter prefix is stripped and every backslash becomes a
// forward slash. Logical paths are case-preserving.
func Normalize(path string) string {
	if len(path) >= 2 && path[1] == ':' && isDriveLetter(path[0]) {
		path = path[2:]
	}
	return strings.ReplaceAll(path, "\\", "/")
}

func isDriveLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
