package core

import "time"

// isoLayout renders microsecond precision with a numeric UTC offset,
// matching the timestamps stored in space metadata and note front-matter.
const isoLayout = "2006-01-02T15:04:05.000000-07:00"

// ISOFormat renders t in the ISO-8601 form used across stored metadata and
// tool responses. Times are normalized to UTC, so the offset is always
// +00:00.
func ISOFormat(t time.Time) string {
	return t.UTC().Format(isoLayout)
}
