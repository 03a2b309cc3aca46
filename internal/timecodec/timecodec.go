// Package timecodec converts between the cache's canonical date-key string
// format and epoch seconds. The layout is lexicographically monotonic, so
// date keys can be compared and sorted as plain strings without parsing.
package timecodec

import "time"

// Layout is the canonical date-key format: "2015-03-03 00:00Z".
// It mirrors the original C++ implementation's strptime format
// "%Y-%m-%d %H:%MZ" exactly, including the literal trailing "Z".
const Layout = "2006-01-02 15:04Z"

// Parse converts a canonical date-key string to epoch seconds in local time.
// It returns -1 if s does not match Layout, matching the original
// implementation's behavior of returning -1 on a strptime failure.
func Parse(s string) int64 {
	t, err := time.ParseInLocation(Layout, s, time.Local)
	if err != nil {
		return -1
	}
	return t.Unix()
}

// Format converts epoch seconds in local time to a canonical date-key string.
func Format(epoch int64) string {
	return time.Unix(epoch, 0).Local().Format(Layout)
}

// Valid reports whether s parses under Layout.
func Valid(s string) bool {
	_, err := time.ParseInLocation(Layout, s, time.Local)
	return err == nil
}
