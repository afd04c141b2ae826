// Package version holds the build-time identity string returned by the
// binary protocol's Version command.
package version

// String is what a Version request's response body carries. It deliberately
// does not follow memcached's own version numbering scheme.
const String = "1.0.0-bincache"
